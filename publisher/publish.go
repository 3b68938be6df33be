// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package publisher

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/heraldhq/herald/adapter"
	"github.com/heraldhq/herald/content"
	"github.com/heraldhq/herald/lib/service"
	"github.com/heraldhq/herald/metrics"
	"github.com/heraldhq/herald/notify"
	"github.com/heraldhq/herald/payload"
	"github.com/heraldhq/herald/vault"
)

// Publication outcomes as they appear in event details and metrics.
const (
	statusPublished = "published"
	statusFailed    = "failed"
)

// Outcome phrases in the delivery confirmation sent to the sender.
const (
	deliveryDelivered = "was successfully delivered"
	deliveryFailed    = "failed to deliver"
)

type publishRequest struct {
	Content  string            `cbor:"content"`
	Metadata map[string]string `cbor:"metadata"`
}

// publishResult is the publish-content response payload.
type publishResult struct {
	Success           bool   `cbor:"success"`
	Message           string `cbor:"message"`
	PublisherResponse string `cbor:"publisher_response"`
}

// publishState threads one publish request through the pipeline
// stages. Stages fill in the fields later stages read; a stage that
// cannot proceed returns the wire error and nothing after it runs.
type publishState struct {
	// sender is the metadata From value, the reply identity for
	// delivery confirmations and the vault's phone-number key.
	sender   string
	metadata map[string]string

	envelope *payload.Envelope
	entry    adapter.Entry

	// deviceID is the envelope device id in hex, empty when the
	// envelope carried none.
	deviceID string

	plaintext   string
	countryCode string
	parts       *content.Parts

	// token is the credential handed to the adapter's send. When the
	// content carried an inline pair, userToken marks it
	// session-scoped: rotations then become refresh alerts instead of
	// store writes.
	token       map[string]any
	userToken   bool
	userRefresh string

	// additionalData is the refresh alert prepended to the outcome
	// confirmation, set only when a caller-supplied credential was
	// rotated by the send.
	additionalData string
}

// publishContent handles the publish-content action.
func (p *Publisher) publishContent(ctx context.Context, raw []byte) (any, error) {
	var req publishRequest
	if err := decodeRequest(raw, &req); err != nil {
		return nil, err
	}
	if err := requireFields(field{"content", req.Content}); err != nil {
		return nil, err
	}

	st := &publishState{
		sender:   req.Metadata["From"],
		metadata: req.Metadata,
	}

	if err := p.decodePayload(st, req.Content); err != nil {
		return nil, err
	}
	if err := p.identifyPlatform(st); err != nil {
		return nil, err
	}
	if err := p.decryptPayload(ctx, st); err != nil {
		return nil, err
	}
	if err := p.extractContent(st); err != nil {
		return nil, err
	}

	// Reliability tests never touch the credential store.
	if st.entry.Manifest.Protocol == adapter.ProtocolEvent {
		return p.publishTest(ctx, st)
	}

	if err := p.fetchAccessToken(ctx, st); err != nil {
		return nil, err
	}

	switch st.entry.Manifest.Protocol {
	case adapter.ProtocolOAuth2:
		return p.publishOAuth2(ctx, st)
	case adapter.ProtocolPNBA:
		return p.publishPNBA(ctx, st)
	default:
		return nil, service.Errorf(service.StatusUnimplemented,
			"unsupported protocol %q for platform %q",
			st.entry.Manifest.Protocol, st.entry.Manifest.Name)
	}
}

// decodePayload base64-decodes the request content and parses the
// envelope inside it.
func (p *Publisher) decodePayload(st *publishState, encoded string) error {
	envelope, err := payload.DecodeContent(encoded)
	if err != nil {
		return p.reportedFailure(service.StatusInvalidArgument, err.Error(),
			"Error Decoding Platform Payload")
	}
	st.envelope = envelope
	if len(envelope.DeviceID) > 0 {
		st.deviceID = hex.EncodeToString(envelope.DeviceID)
	}

	p.logger.Debug("decoded payload envelope",
		"version", envelope.Version,
		"shortcode", envelope.Shortcode,
		"language", envelope.Language,
		"has_device_id", st.deviceID != "",
	)
	return nil
}

// identifyPlatform maps the envelope shortcode to an installed
// adapter, rescanning the adapters root first so a freshly installed
// bundle is publishable without a restart.
func (p *Publisher) identifyPlatform(st *publishState) error {
	p.refreshRegistry()

	entry, ok := p.registry.ByShortcode(st.envelope.Shortcode)
	if !ok {
		detail := fmt.Sprintf("No platform found for shortcode '%s'.", st.envelope.Shortcode)
		if available := p.availableShortcodes(); available != "" {
			detail += " Available shortcodes: " + available
		}
		return p.reportedFailure(service.StatusInvalidArgument, detail, "")
	}
	st.entry = entry
	return nil
}

// decryptPayload asks the vault for the plaintext. The vault also
// resolves the sender's country, carried into publication events.
func (p *Publisher) decryptPayload(ctx context.Context, st *publishState) error {
	result, err := p.vault.DecryptPayload(ctx, vault.DecryptRequest{
		DeviceID:    st.deviceID,
		PhoneNumber: st.sender,
		Ciphertext:  base64.StdEncoding.EncodeToString(st.envelope.Ciphertext),
	})
	if err != nil {
		return p.vaultFailure(err, "Error Decrypting Platform Payload")
	}
	st.plaintext = result.Plaintext
	st.countryCode = result.CountryCode
	return nil
}

// extractContent splits the decrypted body into service fields. The
// leading field doubles as the account identifier, so stray newlines
// SMS transport inserts are stripped from it.
func (p *Publisher) extractContent(st *publishState) error {
	parts, err := content.Extract(
		content.Service(st.entry.Manifest.Service),
		st.envelope.Version,
		[]byte(st.plaintext),
	)
	if err != nil {
		return p.reportedFailure(service.StatusInvalidArgument, err.Error(), "")
	}
	parts.From = strings.ReplaceAll(parts.From, "\n", "")
	st.parts = parts
	return nil
}

// fetchAccessToken pulls the stored credential for the sending
// identity. An inline credential pair in the content overrides the
// stored one for this call only and is never written back.
func (p *Publisher) fetchAccessToken(ctx context.Context, st *publishState) error {
	stored, err := p.vault.GetAccessToken(ctx, vault.TokenQuery{
		DeviceID:          st.deviceID,
		PhoneNumber:       st.sender,
		Platform:          st.entry.Manifest.Name,
		AccountIdentifier: st.parts.From,
	})
	if err != nil {
		return p.vaultFailure(err, "Error Fetching Access Token")
	}

	var token map[string]any
	if err := json.Unmarshal([]byte(stored), &token); err != nil {
		p.notifyOutcome(ctx, st, statusFailed)
		return p.reportedInternalFailure(
			fmt.Errorf("parsing stored credential for %s: %w", st.entry.Manifest.Name, err))
	}

	if st.parts.AccessToken != "" && st.parts.RefreshToken != "" {
		token["access_token"] = st.parts.AccessToken
		token["refresh_token"] = st.parts.RefreshToken
		st.userToken = true
		st.userRefresh = st.parts.RefreshToken
	}
	st.token = token
	return nil
}

// publishOAuth2 sends the message through an OAuth2 adapter and
// settles the credential afterwards.
func (p *Publisher) publishOAuth2(ctx context.Context, st *publishState) (any, error) {
	params, err := oauth2SendParams(st)
	if err != nil {
		return nil, err
	}

	res, invokeErr := p.invokeAdapter(ctx, st.entry, methodSendMessage, params)
	if invokeErr != nil {
		p.notifyOutcome(ctx, st, statusFailed)
		return nil, p.reportedInternalFailure(invokeErr)
	}
	if res.Error != "" {
		p.notifyOutcome(ctx, st, statusFailed)
		return publishResult{
			Success:           false,
			Message:           fmt.Sprintf("Failed to publish %s message", st.entry.Manifest.Name),
			PublisherResponse: res.Error,
		}, nil
	}

	result := res.ResultMap()
	p.settleCredential(ctx, st, result)
	p.notifyOutcome(ctx, st, statusPublished)
	return publishResult{
		Success:           true,
		Message:           fmt.Sprintf("Successfully published %s message", st.entry.Manifest.Name),
		PublisherResponse: stringField(result, "message"),
	}, nil
}

// oauth2SendParams shapes the send_message request for the service
// type the adapter declares.
func oauth2SendParams(st *publishState) (map[string]any, error) {
	switch content.Service(st.entry.Manifest.Service) {
	case content.ServiceEmail:
		return map[string]any{
			"token":   st.token,
			"from":    st.parts.From,
			"to":      st.parts.To,
			"cc":      st.parts.CC,
			"bcc":     st.parts.BCC,
			"subject": st.parts.Subject,
			"body":    st.parts.Body,
		}, nil
	case content.ServiceText:
		return map[string]any{
			"token":   st.token,
			"from":    st.parts.From,
			"message": st.parts.Body,
		}, nil
	default:
		return nil, service.Errorf(service.StatusUnimplemented,
			"unsupported service %q for oauth2 platform %q",
			st.entry.Manifest.Service, st.entry.Manifest.Name)
	}
}

// settleCredential applies the adapter's post-send token report. A
// rotated credential is written back to the vault, except when the
// caller supplied its own pair: that pair is session-scoped, so a
// rotation it caused is surfaced as a refresh alert the sending
// device can reconcile, never a silent store write.
func (p *Publisher) settleCredential(ctx context.Context, st *publishState, result map[string]any) {
	rotated, ok := result["token"].(map[string]any)
	if !ok {
		return
	}

	if st.userToken {
		newRefresh := stringField(rotated, "refresh_token")
		if newRefresh != "" && newRefresh != st.userRefresh {
			alert := st.parts.From + ":" + newRefresh
			st.additionalData = base64.StdEncoding.EncodeToString([]byte(alert))
			p.logger.Info("refresh token rotated under caller-supplied credential",
				"platform", st.entry.Manifest.Name,
				"account", st.parts.From,
				"refresh_token", notify.Mask(newRefresh),
			)
		}
		return
	}

	blob, err := json.Marshal(rotated)
	if err != nil {
		p.logger.Error("marshaling rotated credential", "error", err)
		return
	}
	err = p.vault.UpdateToken(ctx, vault.UpdateTokenRequest{
		DeviceID:          st.deviceID,
		PhoneNumber:       st.sender,
		Platform:          st.entry.Manifest.Name,
		AccountIdentifier: st.parts.From,
		Token:             string(blob),
	})
	if err != nil {
		// The message is already delivered; a bookkeeping failure
		// must not turn the publish into a failure after the fact.
		p.logger.Error("updating stored credential after send",
			"platform", st.entry.Manifest.Name,
			"account", st.parts.From,
			"error", err,
		)
	}
}

// publishPNBA sends the message through a phone-number-auth adapter.
func (p *Publisher) publishPNBA(ctx context.Context, st *publishState) (any, error) {
	params := map[string]any{
		"token":     st.token,
		"recipient": st.parts.To,
		"message":   st.parts.Body,
	}

	res, invokeErr := p.invokeAdapter(ctx, st.entry, methodSendMessage, params)
	if invokeErr != nil {
		p.notifyOutcome(ctx, st, statusFailed)
		return nil, p.reportedInternalFailure(invokeErr)
	}
	if res.Error != "" {
		p.notifyOutcome(ctx, st, statusFailed)
		return publishResult{
			Success:           false,
			Message:           fmt.Sprintf("Failed to publish %s message", st.entry.Manifest.Name),
			PublisherResponse: res.Error,
		}, nil
	}

	result := res.ResultMap()
	p.notifyOutcome(ctx, st, statusPublished)
	return publishResult{
		Success:           true,
		Message:           fmt.Sprintf("Successfully published %s message", st.entry.Manifest.Name),
		PublisherResponse: stringField(result, "message"),
	}, nil
}

// publishTest scores a reliability test instead of delivering a
// message: the content's leading field is the test id, and the
// routing timestamps come from the transport metadata. Timestamps
// cross the adapter channel as epoch milliseconds.
func (p *Publisher) publishTest(ctx context.Context, st *publishState) (any, error) {
	var missing []string
	if st.metadata["Date"] == "" {
		missing = append(missing, "Date")
	}
	if st.metadata["Date_sent"] == "" {
		missing = append(missing, "Date_sent")
	}
	if len(missing) > 0 {
		return nil, service.Errorf(service.StatusInvalidArgument,
			"Missing required metadata fields: %s", strings.Join(missing, ", "))
	}

	testID, err := strconv.Atoi(st.parts.From)
	if err != nil {
		return nil, p.reportedFailure(service.StatusInvalidArgument,
			fmt.Sprintf("invalid test id %q", st.parts.From),
			"Failed to update reliability test")
	}
	sentMillis, err := strconv.ParseInt(st.metadata["Date_sent"], 10, 64)
	if err != nil {
		return nil, p.reportedFailure(service.StatusInvalidArgument,
			fmt.Sprintf("invalid Date_sent %q", st.metadata["Date_sent"]),
			"Failed to update reliability test")
	}
	receivedMillis, err := strconv.ParseInt(st.metadata["Date"], 10, 64)
	if err != nil {
		return nil, p.reportedFailure(service.StatusInvalidArgument,
			fmt.Sprintf("invalid Date %q", st.metadata["Date"]),
			"Failed to update reliability test")
	}

	params := map[string]any{
		"test_id":           testID,
		"sms_sent_time":     sentMillis,
		"sms_received_time": receivedMillis,
		"sms_routed_time":   p.clk.Now().UnixMilli(),
	}

	res, invokeErr := p.invokeAdapter(ctx, st.entry, methodUpdateTest, params)
	if invokeErr != nil {
		p.notifyOutcome(ctx, st, statusFailed)
		return nil, p.reportedInternalFailure(invokeErr)
	}
	if res.Error != "" {
		code := service.StatusInternal
		if strings.Contains(strings.ToLower(res.Error), "not found") {
			code = service.StatusNotFound
		}
		return nil, p.reportedFailure(code, res.Error, "Failed to update reliability test")
	}

	return publishResult{
		Success:           true,
		Message:           "Reliability test updated successfully in the database.",
		PublisherResponse: "Message successfully published to Reliability Test Platform.",
	}, nil
}

// notifyOutcome dispatches the post-publish notifications: the
// structured publication event for the reporting pipeline and the
// delivery confirmation back to the sender.
func (p *Publisher) notifyOutcome(ctx context.Context, st *publishState, status string) {
	platform := st.entry.Manifest.Name
	metrics.PublicationsTotal.WithLabelValues(platform, status).Inc()

	p.notifier.Dispatch(ctx,
		notify.Notification{
			Type:   notify.TypeEvent,
			Target: notify.TargetPublication,
			Details: map[string]any{
				"platform_name": platform,
				"source":        "platforms",
				"status":        status,
				"country_code":  st.countryCode,
			},
		},
		notify.Notification{
			Type:    notify.TypeSMS,
			Target:  st.sender,
			Message: p.deliveryMessage(platform, status, st.additionalData),
		},
	)
}

// deliveryMessage renders the confirmation text for the sender.
// additionalData carries the refresh alert blob when a rotated
// credential needs to reach the client device out of band.
func (p *Publisher) deliveryMessage(platform, status, additionalData string) string {
	outcome := deliveryDelivered
	if status == statusFailed {
		outcome = deliveryFailed
	}
	timestamp := p.clk.Now().UTC().Format("2006-01-02 15:04:05 (MST)")

	message := fmt.Sprintf("Your %s message %s.\nDate: %s", platform, outcome, timestamp)
	if additionalData != "" {
		message = additionalData + "\n\n" + message
	}
	return message
}
