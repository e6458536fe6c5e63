package respond

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/de-tools/cost-atlas/pkg/adapters"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultPeriodDays is used when a request names no period.
const DefaultPeriodDays = 30

const maxBodyBytes = 1 << 20

var statuses = map[errkind.Kind]int{
	errkind.InvalidInput:          http.StatusBadRequest,
	errkind.InvalidAccountId:      http.StatusBadRequest,
	errkind.NotFound:              http.StatusNotFound,
	errkind.InvalidTransition:     http.StatusConflict,
	errkind.Conflict:              http.StatusConflict,
	errkind.LinkExpired:           http.StatusGone,
	errkind.TrustNotEstablished:   http.StatusUnprocessableEntity,
	errkind.CapabilityProbeFailed: http.StatusUnprocessableEntity,
	errkind.RateLimited:           http.StatusTooManyRequests,
	errkind.ProviderUnavailable:   http.StatusBadGateway,
	errkind.PartialBatchFailure:   http.StatusBadGateway,
}

// StatusFor maps an error kind onto an HTTP status code.
func StatusFor(kind errkind.Kind) int {
	if s, ok := statuses[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// Error writes the stable kind and message of err. Internal failures are
// logged in full and answered with a generic body.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := errkind.KindOf(err)
	status := StatusFor(kind)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError && kind.Internal() {
		logger.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}
	JSON(w, r, status, adapters.MapErrorToApi(err))
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errkind.Wrap(errkind.InvalidInput, err, "invalid request body")
	}
	return nil
}

// List reads a query parameter given either repeated or comma separated.
func List(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func Scope(r *http.Request) domain.Scope {
	return domain.Scope{
		AccountIDs: List(r, "accounts"),
		Services:   List(r, "services"),
		Regions:    List(r, "regions"),
		Providers:  List(r, "providers"),
	}
}

// Period reads from and to as YYYY-MM-DD. to is exclusive and defaults to
// tomorrow; from defaults to DefaultPeriodDays before to.
func Period(r *http.Request, now time.Time) (domain.Period, error) {
	q := r.URL.Query()
	end := domain.Day(now).AddDate(0, 0, 1)
	if s := q.Get("to"); s != "" {
		t, err := domain.ParseDate(s)
		if err != nil {
			return domain.Period{}, errkind.Wrap(errkind.InvalidInput, err, "invalid to")
		}
		end = t
	}
	start := end.AddDate(0, 0, -DefaultPeriodDays)
	if s := q.Get("from"); s != "" {
		t, err := domain.ParseDate(s)
		if err != nil {
			return domain.Period{}, errkind.Wrap(errkind.InvalidInput, err, "invalid from")
		}
		start = t
	}
	p, err := domain.NewPeriod(start, end)
	if err != nil {
		return domain.Period{}, errkind.Wrap(errkind.InvalidInput, err, "invalid period")
	}
	return p, nil
}

// Page reads page and page_size; absent values are zero and left to the
// store defaults.
func Page(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(r, "page_size")
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, errkind.New(errkind.InvalidInput, "%s must be a non-negative integer", name)
	}
	return v, nil
}
