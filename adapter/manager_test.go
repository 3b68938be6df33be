// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitEnv returns an environment with committer identity set, so test
// commits work on machines with no global git config.
func gitEnv() []string {
	return append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
	)
}

// initBundleRepo creates an upstream git repository holding an adapter
// bundle and returns its path. Tests add adapters by cloning from it.
func initBundleRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "upstream")
	command := exec.Command("git", "init", "-b", "main", dir)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v\n%s", err, output)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	commitAll(t, dir, "initial")
	return dir
}

func commitAll(t *testing.T, dir, message string) {
	t.Helper()

	command := exec.Command("git", "-C", dir, "add", "-A")
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, output)
	}
	command = exec.Command("git", "-C", dir, "commit", "-m", message)
	command.Env = gitEnv()
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, output)
	}
}

func gmailBundleFiles() map[string]string {
	return map[string]string{
		manifestFile:   gmailManifest,
		configFile:     "[credentials]\n",
		entrypointFile: "print('adapter')\n",
	}
}

// fakeInterpreter writes a shell script that mimics "python3 -m venv"
// closely enough for provisioning: it creates <dir>/bin/pip as an
// executable no-op so the dependency install step succeeds.
func fakeInterpreter(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "python3")
	script := `#!/bin/sh
mkdir -p "$3/bin"
cat > "$3/bin/pip" <<'PIP'
#!/bin/sh
exit 0
PIP
chmod +x "$3/bin/pip"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return path
}

// failingInterpreter writes a shell script that always fails, for
// exercising provisioning rollback.
func failingInterpreter(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "python3")
	script := "#!/bin/sh\necho 'venv creation exploded' >&2\nexit 1\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write failing interpreter: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, interpreter string) (*Manager, *Registry, Roots) {
	t.Helper()

	roots := testRoots(t)
	registry := NewRegistry(roots, testLogger())
	if _, err := registry.Populate(); err != nil {
		t.Fatalf("initial Populate failed: %v", err)
	}
	return NewManager(registry, interpreter, testLogger()), registry, roots
}

// dirEntries returns the names of entries under dir, or nil when the
// directory does not exist.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestAddInstallsBundle(t *testing.T) {
	t.Parallel()

	upstream := initBundleRepo(t, gmailBundleFiles())
	manager, registry, roots := newTestManager(t, fakeInterpreter(t))

	entry, err := manager.Add(context.Background(), upstream)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if entry.Manifest.Key() != "gmail_oauth2" {
		t.Errorf("key = %q, want gmail_oauth2", entry.Manifest.Key())
	}
	if _, err := os.Stat(filepath.Join(roots.Adapters, "gmail_oauth2", manifestFile)); err != nil {
		t.Errorf("installed bundle missing manifest: %v", err)
	}
	if _, ok := registry.Get("gmail", "oauth2"); !ok {
		t.Error("adapter not registered after Add")
	}
	if got := dirEntries(t, roots.Staging); len(got) != 0 {
		t.Errorf("staging root not empty after Add: %v", got)
	}
	// No requirements file, so no runtime is provisioned.
	if got := dirEntries(t, roots.Runtimes); len(got) != 0 {
		t.Errorf("runtimes root not empty: %v", got)
	}
}

func TestAddProvisionsRuntime(t *testing.T) {
	t.Parallel()

	files := gmailBundleFiles()
	files[requirementsFile] = "requests==2.32.0\n"
	upstream := initBundleRepo(t, files)

	manager, _, roots := newTestManager(t, fakeInterpreter(t))

	entry, err := manager.Add(context.Background(), upstream)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	pip := filepath.Join(roots.Runtimes, "gmail_oauth2", "bin", "pip")
	if _, err := os.Stat(pip); err != nil {
		t.Errorf("runtime not provisioned: %v", err)
	}
	if entry.Location.Runtime != filepath.Join(roots.Runtimes, "gmail_oauth2") {
		t.Errorf("entry runtime = %q", entry.Location.Runtime)
	}
}

func TestAddRollbackOnInvalidBundle(t *testing.T) {
	t.Parallel()

	// Upstream is a valid repository but not a valid bundle.
	files := gmailBundleFiles()
	delete(files, manifestFile)
	upstream := initBundleRepo(t, files)

	manager, registry, roots := newTestManager(t, fakeInterpreter(t))

	_, err := manager.Add(context.Background(), upstream)
	if err == nil || !strings.Contains(err.Error(), manifestFile) {
		t.Fatalf("Add error = %v, want missing-manifest error", err)
	}

	if got := dirEntries(t, roots.Staging); len(got) != 0 {
		t.Errorf("staging root not cleaned after failure: %v", got)
	}
	if got := dirEntries(t, roots.Adapters); len(got) != 0 {
		t.Errorf("adapters root not empty after failure: %v", got)
	}
	if len(registry.List()) != 0 {
		t.Error("registry not empty after failed Add")
	}
}

func TestAddRollbackOnProvisionFailure(t *testing.T) {
	t.Parallel()

	files := gmailBundleFiles()
	files[requirementsFile] = "requests\n"
	upstream := initBundleRepo(t, files)

	manager, registry, roots := newTestManager(t, failingInterpreter(t))

	_, err := manager.Add(context.Background(), upstream)
	if err == nil || !strings.Contains(err.Error(), "creating runtime") {
		t.Fatalf("Add error = %v, want runtime-creation error", err)
	}
	if !strings.Contains(err.Error(), "venv creation exploded") {
		t.Errorf("error %v does not carry interpreter stderr", err)
	}

	if got := dirEntries(t, roots.Adapters); len(got) != 0 {
		t.Errorf("installed dir not rolled back: %v", got)
	}
	if got := dirEntries(t, roots.Runtimes); len(got) != 0 {
		t.Errorf("partial runtime not rolled back: %v", got)
	}
	if len(registry.List()) != 0 {
		t.Error("registry not empty after rollback")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	t.Parallel()

	upstream := initBundleRepo(t, gmailBundleFiles())
	manager, _, roots := newTestManager(t, fakeInterpreter(t))

	if _, err := manager.Add(context.Background(), upstream); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	_, err := manager.Add(context.Background(), upstream)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second Add error = %v, want already-exists", err)
	}

	if got := dirEntries(t, roots.Adapters); len(got) != 1 {
		t.Errorf("adapters root = %v, want the single original install", got)
	}
	if got := dirEntries(t, roots.Staging); len(got) != 0 {
		t.Errorf("staging root not cleaned after rejected Add: %v", got)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	files := gmailBundleFiles()
	files[requirementsFile] = "requests\n"
	upstream := initBundleRepo(t, files)

	manager, registry, roots := newTestManager(t, fakeInterpreter(t))
	entry, err := manager.Add(context.Background(), upstream)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Simulate adapter-private state so Remove has assets to delete.
	if err := os.MkdirAll(entry.Location.Assets, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := manager.Remove("Gmail"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	for _, dir := range []string{roots.Adapters, roots.Runtimes, roots.Assets} {
		if got := dirEntries(t, dir); len(got) != 0 {
			t.Errorf("%s not empty after Remove: %v", dir, got)
		}
	}
	if len(registry.List()) != 0 {
		t.Error("registry not empty after Remove")
	}

	if err := manager.Remove("gmail"); err == nil || !strings.Contains(err.Error(), "unknown adapter") {
		t.Errorf("Remove of unknown adapter error = %v, want unknown-adapter", err)
	}
}

func TestUpdatePullsChanges(t *testing.T) {
	t.Parallel()

	upstream := initBundleRepo(t, gmailBundleFiles())
	manager, registry, roots := newTestManager(t, fakeInterpreter(t))

	if _, err := manager.Add(context.Background(), upstream); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	before := registry.Hash()

	// Advance the upstream.
	if err := os.WriteFile(filepath.Join(upstream, configFile), []byte("[credentials]\nclient_id = rotated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	commitAll(t, upstream, "rotate credentials")

	if err := manager.Update(context.Background(), "gmail", false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	updated, err := os.ReadFile(filepath.Join(roots.Adapters, "gmail_oauth2", configFile))
	if err != nil {
		t.Fatalf("read updated config: %v", err)
	}
	if !strings.Contains(string(updated), "rotated") {
		t.Errorf("config not updated: %q", updated)
	}
	if registry.Hash() == before {
		t.Error("registry hash unchanged after update")
	}
}

func TestUpdateAll(t *testing.T) {
	t.Parallel()

	gmailUpstream := initBundleRepo(t, gmailBundleFiles())
	twitterUpstream := initBundleRepo(t, map[string]string{
		manifestFile:   twitterManifest,
		configFile:     "[credentials]\n",
		entrypointFile: "print('adapter')\n",
	})

	manager, _, roots := newTestManager(t, fakeInterpreter(t))
	for _, upstream := range []string{gmailUpstream, twitterUpstream} {
		if _, err := manager.Add(context.Background(), upstream); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	for _, upstream := range []string{gmailUpstream, twitterUpstream} {
		if err := os.WriteFile(filepath.Join(upstream, entrypointFile), []byte("print('v2')\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		commitAll(t, upstream, "v2")
	}

	if err := manager.Update(context.Background(), "", false); err != nil {
		t.Fatalf("Update all failed: %v", err)
	}

	for _, key := range []string{"gmail_oauth2", "twitter_oauth2"} {
		content, err := os.ReadFile(filepath.Join(roots.Adapters, key, entrypointFile))
		if err != nil {
			t.Fatalf("read %s entrypoint: %v", key, err)
		}
		if !strings.Contains(string(content), "v2") {
			t.Errorf("%s not updated", key)
		}
	}
}

func TestUpdateUnknownAdapter(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, fakeInterpreter(t))
	err := manager.Update(context.Background(), "missing", false)
	if err == nil || !strings.Contains(err.Error(), "unknown adapter") {
		t.Errorf("error = %v, want unknown-adapter", err)
	}
}
