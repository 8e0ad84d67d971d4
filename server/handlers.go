package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tarancss/lnnode/lib/metrics"
)

const maxRequestSize = 1 << 20

// Response defines the data structure returned to the client making the http request. Exactly one of Body and Error
// is set.
type Response struct {
	Body  interface{} `json:"body,omitempty"`
	Error string      `json:"error,omitempty"`
}

func write(rw http.ResponseWriter, code int, res *Response) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(res)
}

// statusOf returns the HTTP status of an error returned by a facade operation.
func statusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind.Status()
	}

	return http.StatusInternalServerError
}

// decodeRequest reads the JSON request of a command. An empty body is an empty request.
func decodeRequest(rw http.ResponseWriter, r *http.Request, req *Request) error {
	if r.Body == nil {
		return nil
	}

	err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxRequestSize)).Decode(req)
	if err != nil && !errors.Is(err, io.EOF) {
		return clientErr("ERROR: cannot decode request: %v", err)
	}

	return nil
}

// homeHandler just replies a welcome message to the client.
func (s *Server) homeHandler(rw http.ResponseWriter, r *http.Request) {
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	write(rw, http.StatusOK, &Response{Body: "Hello, this is your lightning node! Try /help"})
}

// handler serves a command: it decodes the request, runs op and replies with its result.
func (s *Server) handler(command string,
	op func(ctx context.Context, req Request) (interface{}, error),
) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var err error

		var res Response

		var req Request

		defer func() {
			code := http.StatusOK
			// reply to requester accordingly
			if err != nil {
				code = statusOf(err)
				res.Body, res.Error = nil, err.Error()
			}

			metrics.Requests.WithLabelValues(command, strconv.Itoa(code)).Inc()
			log.Printf("httpreq from %v %s code:%d err:%v\n", r.RemoteAddr, r.RequestURI, code, err)
			write(rw, code, &res)
		}()

		if err = decodeRequest(rw, r, &req); err != nil {
			return
		}

		res.Body, err = op(r.Context(), req)
	}
}

// limit refuses requests above the rate limit.
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			command := strings.TrimPrefix(r.URL.Path, "/")
			metrics.Requests.WithLabelValues(command, strconv.Itoa(http.StatusTooManyRequests)).Inc()
			write(rw, http.StatusTooManyRequests, &Response{Error: "ERROR: too many requests"})

			return
		}

		next.ServeHTTP(rw, r)
	})
}
