package ctrl

import (
	"encoding/json"
	"net/http"

	"github.com/liangyuRain/nexus/internal/xklib/kcommon"
	"github.com/liangyuRain/nexus/internal/xklib/kerror"
	"github.com/liangyuRain/nexus/internal/xklib/klogging"
)

// ErrorHandlingMiddleware recovers a panic raised by a handler, converts
// it to a Kerror, and writes the matching HTTP status and JSON body.
// Handlers signal failure by panicking with a *kerror.Kerror rather than
// returning an error, matching the rest of this codebase's RPC handlers.
func ErrorHandlingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		startMs := kcommon.GetMonoTimeMs()
		defer func() {
			elapsedMs := kcommon.GetMonoTimeMs() - startMs
			if err := recover(); err != nil {
				logger := klogging.Error(r.Context()).With("elapsedMs", elapsedMs)

				var ke *kerror.Kerror
				switch v := err.(type) {
				case *kerror.Kerror:
					ke = v
					logger.WithError(ke)
				case error:
					ke = kerror.Create("InternalServerError", v.Error()).
						WithErrorCode(kerror.EC_UNKNOWN)
					logger.WithError(ke)
				default:
					ke = kerror.Create("UnknownPanic", "unexpected panic with non-error value").
						WithErrorCode(kerror.EC_UNKNOWN).
						With("panicValue", v)
					logger.With("panicValue", v)
				}

				logger.Log("PanicRecovered", "panic recovered in ctrl handler")

				w.WriteHeader(ke.ErrorCode.ToHttpErrorCode())
				json.NewEncoder(w).Encode(Reply{Status: StatusError, Error: ke.Msg})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
