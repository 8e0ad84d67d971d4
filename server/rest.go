// Package server implements the operator REST API of the node.
//
// Every command has its own path and takes a JSON request. Replies are a JSON envelope with either a body or an error.
// Commands that only read the node state also accept GET. See cmd/cli for a client.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/tarancss/lnnode/lib/node"
)

const timeout = 15

// Server serves the request facade over HTTP.
type Server struct {
	st      *node.State
	limiter *rate.Limiter
	connMu  sync.Mutex    // serializes peer connections
	s       *http.Server  // http server
	ss      *http.Server  // https server
	sc      chan struct{} // http server channel used for graceful shutdowns
}

// New returns a server on the node state. Requests above perMinute per minute are refused; zero disables the limit.
func New(st *node.State, perMinute int) *Server {
	s := &Server{st: st, sc: make(chan struct{})}

	if perMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}

	return s
}

type command struct {
	path     string
	readOnly bool
	op       func(ctx context.Context, req Request) (interface{}, error)
}

func (s *Server) commands() []command {
	return []command{
		{"help", true, s.Help},
		{"nodeinfo", true, s.NodeInfo},
		{"connectpeer", false, s.ConnectPeer},
		{"openchannel", false, s.OpenChannel},
		{"listchannels", true, s.ListChannels},
		{"listpeers", true, s.ListPeers},
		{"getinvoice", false, s.GetInvoice},
		{"sendpayment", false, s.SendPayment},
		{"listpayments", true, s.ListPayments},
		{"signmessage", false, s.SignMessage},
		{"closechannel", false, s.CloseChannel},
		{"forceclosechannel", false, s.ForceCloseChannel},
	}
}

// Router returns the API routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler).Methods("GET")

	for _, c := range s.commands() {
		methods := []string{"POST"}
		if c.readOnly {
			methods = append(methods, "GET")
		}

		r.HandleFunc("/"+c.path, s.handler(c.path, c.op)).Methods(methods...)
	}

	r.Use(s.limit)

	return r
}

// Init sets up and starts the http/https server to service the RESTful API. If sslPort, ssCert and sslKey are
// informed, it will also start an https (TLS) server on the specified endpoint. Init returns once Stop is called.
func (s *Server) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := s.Router()

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%v, https server:%v", err, errTLS)
}

// Stop shuts down the http servers and releases Init.
func (s *Server) Stop() {
	if s.s != nil {
		if err := s.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%v", err)
		}
	}

	if s.ss != nil {
		if err := s.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%v", err)
		}
	}

	close(s.sc)
}
