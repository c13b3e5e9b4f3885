package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"

	"github.com/sirupsen/logrus"
)

const (
	requestIDLength = 10
	requestIDHeader = "X-Request-Id"
	requestIDChars  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

func randomID(rand *rand.Rand) string {
	id := make([]byte, requestIDLength)
	for i := range id {
		id[i] = requestIDChars[rand.Intn(len(requestIDChars))]
	}
	return string(id)
}

// tagRequest assigns the request an id, echoes it back in the response
// headers and returns a logger carrying it.
func (srv *server) tagRequest(w http.ResponseWriter, r *http.Request) logrus.FieldLogger {
	srv.randMu.Lock()
	id := randomID(srv.rand)
	srv.randMu.Unlock()

	w.Header().Set(requestIDHeader, id)
	return srv.logger.WithFields(logrus.Fields{
		"method":    r.Method,
		"path":      r.URL.Path,
		"requestID": id,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeErrorResponse formats the message into an errorResponse. Server side
// failures are logged as errors, client mistakes only at debug level.
func writeErrorResponse(logger logrus.FieldLogger, w http.ResponseWriter, status int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	entry := logger.WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Debug(msg)
	}
	writeResponseAsJSON(logger, w, status, errorResponse{Error: msg})
}

// writeResponseAsJSON encodes resp before touching w so an encoding failure
// can still be reported with a 500.
func writeResponseAsJSON(logger logrus.FieldLogger, w http.ResponseWriter, status int, resp interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(resp); err != nil {
		logger.WithError(err).Error("unable to encode response")
		http.Error(w, "unable to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode terminates the document with a newline, which is dropped so
	// bodies compare cleanly
	if _, err := w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))); err != nil {
		logger.WithError(err).Warn("unable to write response")
	}
}
