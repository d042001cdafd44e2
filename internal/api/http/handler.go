package http

import (
	"hash/crc32"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sysview/sysview/internal/api/wire"
	serrors "github.com/sysview/sysview/internal/errors"
	"github.com/sysview/sysview/internal/observability"
	"github.com/sysview/sysview/internal/router"
)

const contentType = "application/x-amz-json-1.0"

// maxBodyBytes bounds a request body. DynamoDB requests are far smaller.
const maxBodyBytes = 16 << 20

// PrivilegeFunc decides whether an access key id may read internal tables.
type PrivilegeFunc func(accessKeyID string) bool

// Handler serves POST / with X-Amz-Target dispatch.
type Handler struct {
	dispatcher *wire.Dispatcher
	privileged PrivilegeFunc
	logger     *zap.Logger
}

// NewHandler creates a DynamoDB API handler. privileged may be nil, in which
// case no caller is privileged.
func NewHandler(dispatcher *wire.Dispatcher, privileged PrivilegeFunc, logger *zap.Logger) *Handler {
	if privileged == nil {
		privileged = func(string) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: dispatcher, privileged: privileged, logger: logger.Named("http")}
}

// ServeHTTP handles one DynamoDB API request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, serrors.NewValidationError(serrors.CodeUnknownOperation, "Only POST requests are accepted"))
		return
	}

	op, err := wire.OperationFromTarget(r.Header.Get("X-Amz-Target"))
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, serrors.NewValidationError(serrors.CodeSerialization, "Failed to read request body"))
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, serrors.NewValidationError(serrors.CodeSerialization, "Request body is too large"))
		return
	}

	akid := AccessKeyID(r)
	caller := router.Caller{AccessKeyID: akid, Privileged: h.privileged(akid)}

	resp, err := h.dispatcher.Handle(r.Context(), caller, op, body)
	if err != nil {
		if serrors.AWSType(err) == serrors.AWSInternalError {
			h.logger.Error("request failed",
				zap.String("op", op),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatsHandler serves GET /stats with the busiest tables first.
// ?top=N limits the result (default 100).
func StatsHandler(stats *observability.AccessStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		top := 100
		if v := r.URL.Query().Get("top"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "top must be a positive integer", http.StatusBadRequest)
				return
			}
			top = n
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tables": stats.GetTop(top),
			"total":  stats.Len(),
		})
	}
}

func crc32Header(payload []byte) string {
	return strconv.FormatUint(uint64(crc32.ChecksumIEEE(payload)), 10)
}
