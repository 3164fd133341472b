package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/SandilyaSub/Receptionist/internal/analysis"
	"github.com/SandilyaSub/Receptionist/internal/observe"
	"github.com/SandilyaSub/Receptionist/internal/tenant"
	"github.com/SandilyaSub/Receptionist/pkg/provider/llm"
	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// Overall and per-recipient dispatch statuses.
const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusError          = "error"
)

// Template names registered with the messaging provider.
const (
	templateBooking       = "booking_details"
	templateInformational = "information"
	templateOwner         = "service_booking"
)

// defaultCountryCode is prefixed to bare 10-digit national numbers.
const defaultCountryCode = "91"

// copywriterInstruction steers the customer message generation. The four
// labeled components map onto the WhatsApp template's body slots.
const copywriterInstruction = `You are a messaging copywriter for a business receptionist service.
Write a short WhatsApp follow-up message for a customer who just called.
Use WhatsApp rich text sparingly (*bold* for key facts, _italics_ for warmth)
and at most two emojis. Close with a friendly line.

Respond with exactly four labeled sections, each on its own line:
body_1: a greeting, using the customer's name if known
body_2: one sentence acknowledging why they called
body_3: the full details captured from the call
body_4: a short closing line

Alternatively you may respond with a JSON object containing the keys
body_1, body_2, body_3 and body_4. Do not add anything else.`

// Input is everything the dispatcher needs about one finished call.
type Input struct {
	CallSID     string
	Tenant      *tenant.Config
	CallerPhone string
	Result      *analysis.Result
}

// Outcome reports what the dispatcher did for one call.
type Outcome struct {
	// Status is success when every attempted send was delivered,
	// partial_failure when at least one was, and error when none were.
	Status string

	// Usage is the copy generation's token accounting; GenerationModel is
	// the model that produced it. Both are zero when no customer copy was
	// generated.
	Usage           llm.Usage
	GenerationModel string
}

// Dispatcher renders and sends the post-call WhatsApp messages and records
// each attempt. Safe for concurrent use.
type Dispatcher struct {
	gen               llm.Provider
	sender            Sender
	store             storage.NotificationStore
	defaultOwnerPhone string
	metrics           *observe.Metrics
	log               *slog.Logger
}

// DispatcherOption is a functional option for a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics attaches metric instruments to the dispatcher.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher wires the dispatcher. defaultOwnerPhone backs tenants that
// have no owner phone configured.
func NewDispatcher(gen llm.Provider, sender Sender, store storage.NotificationStore, defaultOwnerPhone string, log *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		gen:               gen,
		sender:            sender,
		store:             store,
		defaultOwnerPhone: defaultOwnerPhone,
		log:               log.With("component", "notify"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch sends the customer message when the call qualifies and always
// attempts the owner message. Send failures are recorded and absorbed; the
// returned Outcome carries the overall status.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Outcome {
	log := d.log.With("call_sid", in.CallSID, "tenant", in.Tenant.ID)

	var attempted, delivered int
	var out Outcome

	if customerEligible(in.Result.CallType) {
		if phone, err := NormalizePhone(in.CallerPhone); err != nil {
			log.Warn("skipping customer notification", "error", err)
		} else {
			components, usage := d.customerComponents(ctx, in)
			out.Usage = usage
			out.GenerationModel = d.gen.Model()

			attempted++
			if d.send(ctx, log, in.CallSID, customerTemplate(in.Result.CallType), phone, "customer", components) {
				delivered++
			}
		}
	}

	ownerPhone := in.Tenant.OwnerPhone
	if ownerPhone == "" {
		ownerPhone = d.defaultOwnerPhone
	}
	if phone, err := NormalizePhone(ownerPhone); err != nil {
		log.Warn("skipping owner notification", "error", err)
	} else {
		attempted++
		if d.send(ctx, log, in.CallSID, templateOwner, phone, "owner", ownerComponents(in)) {
			delivered++
		}
	}

	switch {
	case attempted > 0 && delivered == attempted:
		out.Status = StatusSuccess
	case delivered > 0:
		out.Status = StatusPartialFailure
	default:
		out.Status = StatusError
	}
	log.Info("notification dispatch finished", "status", out.Status, "delivered", delivered, "attempted", attempted)
	return out
}

// send delivers one template and records the attempt. Returns whether the
// provider accepted the message.
func (d *Dispatcher) send(ctx context.Context, log *slog.Logger, callSID, template, to, recipientType string, components map[string]Component) bool {
	status := StatusSuccess
	sendErr := d.sender.SendTemplate(ctx, template, to, components)
	if sendErr != nil {
		status = StatusError
		log.Warn("whatsapp send failed", "recipient_type", recipientType, "error", sendErr)
	}
	if d.metrics != nil {
		d.metrics.RecordNotification(ctx, recipientType, status)
	}

	payload, err := json.Marshal(components)
	if err != nil {
		payload = json.RawMessage(`{}`)
	}
	if err := d.store.InsertNotification(ctx, storage.Notification{
		CallSID:       callSID,
		Channel:       "whatsapp",
		Recipient:     to,
		RecipientType: recipientType,
		Status:        status,
		Payload:       payload,
	}); err != nil {
		log.Warn("recording notification failed", "recipient_type", recipientType, "error", err)
	}
	return sendErr == nil
}

// customerEligible reports whether the call type warrants a caller message.
func customerEligible(callType string) bool {
	return callType == "Booking" || callType == "Informational"
}

func customerTemplate(callType string) string {
	if callType == "Informational" {
		return templateInformational
	}
	return templateBooking
}

// customerComponents generates the caller-facing copy. Generation failure or
// unusable output degrades to default copy; the call is never skipped for it.
func (d *Dispatcher) customerComponents(ctx context.Context, in Input) (map[string]Component, llm.Usage) {
	parts := map[string]string{}
	var usage llm.Usage

	resp, err := d.gen.Generate(ctx, llm.Request{
		SystemPrompt: copywriterInstruction,
		Prompt:       customerPrompt(in),
		Temperature:  0.7,
		MaxTokens:    500,
	})
	if err != nil {
		d.log.Warn("customer copy generation failed, using defaults", "call_sid", in.CallSID, "error", err)
		if d.metrics != nil {
			d.metrics.RecordModelError(ctx, "copywriting")
		}
	} else {
		usage = resp.Usage
		parts = parseComponents(resp.Text)
		if len(parts) == 0 {
			d.log.Warn("customer copy was unparseable, using defaults", "call_sid", in.CallSID)
		}
	}

	fillDefaults(parts, in)
	return map[string]Component{
		"body_1": TextComponent(parts["body_1"]),
		"body_2": TextComponent(parts["body_2"]),
		"body_3": TextComponent(parts["body_3"]),
		"body_4": TextComponent(parts["body_4"]),
	}, usage
}

// customerPrompt summarizes the call for the copywriter.
func customerPrompt(in Input) string {
	details, err := json.Marshal(in.Result.KeyDetails)
	if err != nil {
		details = []byte("{}")
	}
	return fmt.Sprintf("Business: %s\nCall type: %s\nCall summary: %s\nCaptured details: %s\n",
		in.Tenant.BranchName, in.Result.CallType, in.Result.Summary, details)
}

// fillDefaults substitutes fixed copy for any component the model omitted.
func fillDefaults(parts map[string]string, in Input) {
	if parts["body_1"] == "" {
		parts["body_1"] = "Hello!"
	}
	if parts["body_2"] == "" {
		parts["body_2"] = "Thank you for your call. We'll be in touch soon."
	}
	if parts["body_3"] == "" {
		parts["body_3"] = in.Result.Summary
	}
	if parts["body_4"] == "" {
		parts["body_4"] = fmt.Sprintf("Warm regards, %s", in.Tenant.BranchName)
	}
}

// ownerComponents fills the owner template's fixed slots.
func ownerComponents(in Input) map[string]Component {
	phone := in.CallerPhone
	if phone == "" {
		phone = "Unknown"
	}
	return map[string]Component{
		"body_1": TextComponent(phone),
		"body_2": TextComponent(in.Result.CallType),
		"body_3": TextComponent(in.Result.Summary),
		"body_4": TextComponent(renderDetails(in.Result.KeyDetails)),
	}
}

// renderDetails renders key details as "key: value | key: value", excluding
// the summary key, with keys sorted for a stable message.
func renderDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		if k == "summary" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "None"
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s: %v", k, details[k]))
	}
	return strings.Join(pairs, " | ")
}

var labelPattern = regexp.MustCompile(`(?i)^[\s*_]*body[\s_]*([1-4])[\s*_]*[:\-]\s*(.*)$`)

// parseComponents extracts body_1..body_4 from the model's answer, accepting
// either a JSON object or labeled sections. Returns an empty map when neither
// form yields a component.
func parseComponents(text string) map[string]string {
	text = strings.TrimSpace(text)
	if fenced := stripFence(text); fenced != "" {
		text = fenced
	}

	parts := map[string]string{}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		for i := 1; i <= 4; i++ {
			key := fmt.Sprintf("body_%d", i)
			if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
				parts[key] = strings.TrimSpace(v)
			}
		}
		return parts
	}

	current := ""
	for _, line := range strings.Split(text, "\n") {
		if m := labelPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			current = "body_" + m[1]
			parts[current] = strings.TrimSpace(m[2])
			continue
		}
		// Continuation lines extend the open section.
		if current != "" && strings.TrimSpace(line) != "" {
			parts[current] = strings.TrimSpace(parts[current] + " " + strings.TrimSpace(line))
		}
	}
	for k, v := range parts {
		if v == "" {
			delete(parts, k)
		}
	}
	return parts
}

// stripFence unwraps a Markdown code fence; returns "" when there is none.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// NormalizePhone reduces a raw caller or owner number to the digits-only
// international form the messaging provider expects. Bare 10-digit national
// numbers get the default country code; anything shorter is rejected.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 1 && digits[0] == '0' {
		digits = digits[1:]
	}

	switch {
	case len(digits) == 10:
		return defaultCountryCode + digits, nil
	case len(digits) > 10:
		return digits, nil
	default:
		return "", fmt.Errorf("notify: phone number %q too short", raw)
	}
}
