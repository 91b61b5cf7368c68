package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/auth"
	"github.com/pstell2002/jupyterhealth-exchange/internal/platform/metrics"
)

// ErrInvalidBundle marks a submission rejected as a whole before any entry is
// attempted.
var ErrInvalidBundle = errors.New("invalid bundle")

// BundleProcessor runs batch Bundles. Entries are created independently and
// in submission order; a failing entry never affects its siblings.
type BundleProcessor struct {
	creator EntryCreator
	logger  zerolog.Logger
}

func NewBundleProcessor(creator EntryCreator, logger zerolog.Logger) *BundleProcessor {
	return &BundleProcessor{creator: creator, logger: logger}
}

// Process validates a wire-format batch Bundle and creates each entry for
// actor. Whole-submission failures wrap ErrInvalidBundle and leave no writes.
func (p *BundleProcessor) Process(ctx context.Context, body []byte, actor uuid.UUID) (*Bundle, error) {
	doc, err := DecodeJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Bundle JSON: %s", ErrInvalidBundle, err.Error())
	}

	internal, ok := ToInternal(doc).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: request body must be a JSON object", ErrInvalidBundle)
	}

	entries, err := prevalidate(internal)
	if err != nil {
		return nil, err
	}
	if err := parseShape(internal); err != nil {
		return nil, err
	}

	out := make([]BundleEntry, len(entries))
	for i, entry := range entries {
		out[i] = p.encode(i, p.processEntry(ctx, entry, actor))
	}
	return NewBatchResponse(out), nil
}

// prevalidate requires every entry to carry a resource with non-null
// value_attachment.data.
func prevalidate(bundle map[string]interface{}) ([]map[string]interface{}, error) {
	rawEntries, ok := bundle["entry"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: Bundle.entry must be a list", ErrInvalidBundle)
	}

	entries := make([]map[string]interface{}, len(rawEntries))
	for i, raw := range rawEntries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: entry[%d] must be an object", ErrInvalidBundle, i)
		}
		resource, _ := entry["resource"].(map[string]interface{})
		attachment, _ := resource["value_attachment"].(map[string]interface{})
		if attachment["data"] == nil {
			return nil, fmt.Errorf("%w: resource.valueAttachment.data must be not null", ErrInvalidBundle)
		}
		entries[i] = entry
	}
	return entries, nil
}

// parseShape checks the submission against the wire Bundle structure.
func parseShape(internal map[string]interface{}) error {
	raw, err := json.Marshal(ToWire(internal))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidBundle, err.Error())
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return fmt.Errorf("%w: Bundle does not match the expected structure: %s", ErrInvalidBundle, err.Error())
	}
	if bundle.ResourceType != "" && bundle.ResourceType != "Bundle" {
		return fmt.Errorf("%w: request body must be a Bundle resource", ErrInvalidBundle)
	}
	if bundle.Type != "batch" {
		return fmt.Errorf("%w: unsupported bundle type '%s'; expected 'batch'", ErrInvalidBundle, bundle.Type)
	}
	return nil
}

func (p *BundleProcessor) processEntry(ctx context.Context, entry map[string]interface{}, actor uuid.UUID) (res CreateResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("panic during create: %v", r))
		}
	}()

	resource, _ := entry["resource"].(map[string]interface{})
	if rt, _ := resource["resource_type"].(string); rt != ResourceTypeObservation {
		return Rejected("Only Observation resourceType supported.")
	}
	if !isCreate(entry) {
		return Rejected("Only POST/Create method supported.")
	}
	return p.creator.CreateFromResource(ctx, resource, actor)
}

func isCreate(entry map[string]interface{}) bool {
	req, _ := entry["request"].(map[string]interface{})
	method, _ := req["method"].(string)
	return strings.EqualFold(method, http.MethodPost)
}

func (p *BundleProcessor) encode(i int, res CreateResult) BundleEntry {
	switch res.Kind {
	case CreateOK:
	case CreateFailed:
		p.logger.Error().Err(res.Err).Int("entry", i).Msg("bundle entry failed")
	default:
		p.logger.Warn().Int("entry", i).Str("result", res.Kind.String()).Str("diagnostics", res.Message).Msg("bundle entry not created")
	}

	entry, err := res.Entry()
	if err != nil {
		p.logger.Error().Err(err).Int("entry", i).Msg("encode bundle entry")
		res = Failed(fmt.Errorf("encode entry result: %w", err))
		entry, _ = res.Entry()
	}
	metrics.BundleEntriesTotal.WithLabelValues(strconv.Itoa(res.StatusCode())).Inc()
	return entry
}

// BundleHandler serves POST /fhir.
type BundleHandler struct {
	processor *BundleProcessor
}

func NewBundleHandler(processor *BundleProcessor) *BundleHandler {
	return &BundleHandler{processor: processor}
}

// RegisterRoutes registers the bundle processing endpoint.
func (h *BundleHandler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.POST("", h.ProcessBundle)
}

// ProcessBundle answers 200 with a batch-response even when entries fail; only
// a rejected submission yields 400.
func (h *BundleHandler) ProcessBundle(c echo.Context) error {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, ErrorOutcome(err.Error()))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return c.JSON(he.Code, ErrorOutcome(fmt.Sprint(he.Message)))
		}
		return c.JSON(http.StatusBadRequest, ErrorOutcome("read request body: "+err.Error()))
	}

	resp, err := h.processor.Process(c.Request().Context(), body, actor)
	if err != nil {
		if errors.Is(err, ErrInvalidBundle) {
			return c.JSON(http.StatusBadRequest, ErrorOutcome(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, resp)
}
