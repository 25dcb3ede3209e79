package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jakopako/tagcheck/catalog"
	"github.com/jakopako/tagcheck/log"
)

// UIVerificationResult is the outcome of verifying the required ui
// elements of one event on one page.
type UIVerificationResult struct {
	EventName     string   `json:"eventName"`
	ElementsFound bool     `json:"elementsFound"`
	FoundElements []string `json:"foundElements,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
	// Degraded marks results produced without usable model evidence,
	// eg after an unparseable response or an inference failure.
	Degraded bool `json:"degraded,omitempty"`
}

// Verifier checks the visual preconditions of events on a rendered
// page.
type Verifier struct {
	inferrer        Inferrer
	disableBatching bool
}

func NewVerifier(inferrer Inferrer, disableBatching bool) *Verifier {
	return &Verifier{inferrer: inferrer, disableBatching: disableBatching}
}

// VerifyPage verifies the given event definitions against the page
// screenshot. Events without ui element requirements are present by
// default and cause no inference call. The remaining events of a page
// are batched into a single request; if batching is disabled or the
// batched response cannot be attributed, the verifier falls back to
// per-event calls. A failure never aborts the page, the affected
// events degrade to elementsFound=false instead.
func (v *Verifier) VerifyPage(ctx context.Context, screenshot []byte, defs []*catalog.EventDefinition) []UIVerificationResult {
	logger := log.LoggerFromContext(ctx)

	results := make([]UIVerificationResult, 0, len(defs))
	var needInference []*catalog.EventDefinition
	for _, def := range defs {
		if len(def.RequiresUIElements) == 0 {
			results = append(results, UIVerificationResult{
				EventName:     def.EventName,
				ElementsFound: true,
				Reason:        "no ui requirement",
			})
			continue
		}
		needInference = append(needInference, def)
	}
	if len(needInference) == 0 {
		return results
	}
	if len(screenshot) == 0 {
		for _, def := range needInference {
			results = append(results, degradedResult(def.EventName, "no screenshot available"))
		}
		return results
	}

	if !v.disableBatching && len(needInference) > 1 {
		batched, err := v.verifyBatch(ctx, screenshot, needInference)
		if err == nil {
			return append(results, batched...)
		}
		logger.Warn(fmt.Sprintf("batched verification failed, falling back to per-event calls: %v", err))
	}

	for _, def := range needInference {
		results = append(results, v.verifySingle(ctx, screenshot, def))
	}
	return results
}

// rawVerification is the fixed response schema expected from the
// model. Anything that does not validate against it is treated as
// unparseable.
type rawVerification struct {
	EventName     *string  `json:"eventName"`
	ElementsFound *bool    `json:"elementsFound"`
	FoundElements []string `json:"foundElements"`
	Reason        string   `json:"reason"`
	Confidence    string   `json:"confidence"`
}

func (v *Verifier) verifyBatch(ctx context.Context, screenshot []byte, defs []*catalog.EventDefinition) ([]UIVerificationResult, error) {
	raw, err := v.inferrer.Infer(ctx, screenshot, buildBatchPrompt(defs))
	if err != nil {
		return nil, err
	}
	parsed, err := parseVerifications(raw)
	if err != nil {
		return nil, err
	}

	byName := map[string]UIVerificationResult{}
	for _, p := range parsed {
		byName[p.EventName] = p
	}
	results := make([]UIVerificationResult, 0, len(defs))
	for _, def := range defs {
		r, ok := byName[def.EventName]
		if !ok {
			// one missing event degrades just that event, the rest of
			// the batch remains usable
			results = append(results, degradedResult(def.EventName, "inference response unparseable: event missing from batched response"))
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (v *Verifier) verifySingle(ctx context.Context, screenshot []byte, def *catalog.EventDefinition) UIVerificationResult {
	logger := log.LoggerFromContext(ctx).With(slog.String("event", def.EventName))
	raw, err := v.inferrer.Infer(ctx, screenshot, buildSinglePrompt(def))
	if err != nil {
		logger.Warn(fmt.Sprintf("inference failed: %v", err))
		return degradedResult(def.EventName, fmt.Sprintf("inference failed: %v", err))
	}
	parsed, err := parseVerifications(raw)
	if err != nil {
		logger.Warn(fmt.Sprintf("inference response unparseable: %v", err))
		return degradedResult(def.EventName, "inference response unparseable")
	}
	for _, p := range parsed {
		if p.EventName == def.EventName {
			return p
		}
	}
	return degradedResult(def.EventName, "inference response unparseable: wrong event name")
}

// parseVerifications validates the raw model output against the fixed
// schema. It accepts either a json array or a single object. Missing
// required fields fail validation for the whole payload.
func parseVerifications(raw string) ([]UIVerificationResult, error) {
	trimmed := strings.TrimSpace(raw)
	// models occasionally wrap json in a markdown fence despite the
	// json response mime type
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var rawResults []rawVerification
	if strings.HasPrefix(trimmed, "{") {
		var single rawVerification
		if err := strictUnmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		rawResults = []rawVerification{single}
	} else {
		if err := strictUnmarshal(trimmed, &rawResults); err != nil {
			return nil, err
		}
	}

	results := make([]UIVerificationResult, 0, len(rawResults))
	for i, r := range rawResults {
		if r.EventName == nil || *r.EventName == "" {
			return nil, fmt.Errorf("result %d: missing eventName", i)
		}
		if r.ElementsFound == nil {
			return nil, fmt.Errorf("result %d: missing elementsFound", i)
		}
		results = append(results, UIVerificationResult{
			EventName:     *r.EventName,
			ElementsFound: *r.ElementsFound,
			FoundElements: r.FoundElements,
			Reason:        r.Reason,
			Confidence:    r.Confidence,
		})
	}
	return results, nil
}

func strictUnmarshal(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	// Decode stops after the first json value, anything after it would
	// otherwise slip through unvalidated
	if err := dec.Decode(new(any)); err != io.EOF {
		return fmt.Errorf("unexpected content after json payload")
	}
	return nil
}

func degradedResult(eventName, reason string) UIVerificationResult {
	return UIVerificationResult{
		EventName:     eventName,
		ElementsFound: false,
		Reason:        reason,
		Degraded:      true,
	}
}

func buildBatchPrompt(defs []*catalog.EventDefinition) string {
	var b strings.Builder
	b.WriteString("You are inspecting a screenshot of a rendered web page.\n")
	b.WriteString("For each of the following analytics events, decide whether ALL of its required interactive ui elements are visible on the page.\n\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "- event %q requires: %s\n", def.EventName, strings.Join(def.RequiresUIElements, ", "))
	}
	b.WriteString("\nAnswer with a json array, one object per event, with exactly these fields:\n")
	b.WriteString(`[{"eventName": string, "elementsFound": boolean, "foundElements": [string], "reason": string, "confidence": "high"|"medium"|"low"}]`)
	b.WriteString("\nDo not include any other fields or text.")
	return b.String()
}

func buildSinglePrompt(def *catalog.EventDefinition) string {
	var b strings.Builder
	b.WriteString("You are inspecting a screenshot of a rendered web page.\n")
	fmt.Fprintf(&b, "Decide whether ALL of the following interactive ui elements are visible on the page: %s\n", strings.Join(def.RequiresUIElements, ", "))
	fmt.Fprintf(&b, "They belong to the analytics event %q.\n", def.EventName)
	b.WriteString("Answer with a single json object with exactly these fields:\n")
	b.WriteString(`{"eventName": string, "elementsFound": boolean, "foundElements": [string], "reason": string, "confidence": "high"|"medium"|"low"}`)
	b.WriteString("\nDo not include any other fields or text.")
	return b.String()
}
