package enclave

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	nitro "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

const defaultReadTimeout = 30 * time.Second

// Server answers ping, key and computation requests, one JSON request and one
// JSON response per connection.
type Server struct {
	attester    EnclaveAttester
	keyManager  *KeyManager
	processor   *Processor
	maxWorkers  int
	readTimeout time.Duration
}

// NewServer creates a server with a bounded worker pool. Connections that
// arrive while every worker is busy are rejected immediately.
func NewServer(attester EnclaveAttester, keyManager *KeyManager, maxWorkers int) *Server {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Server{
		attester:    attester,
		keyManager:  keyManager,
		processor:   NewProcessor(attester, keyManager),
		maxWorkers:  maxWorkers,
		readTimeout: defaultReadTimeout,
	}
}

// KeyManager exposes the server's key manager.
func (s *Server) KeyManager() *KeyManager {
	return s.keyManager
}

// GetEnclaveAttester returns the NSM handle, or an error outside an enclave.
func GetEnclaveAttester() (EnclaveAttester, error) {
	handle, err := nitro.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// ListenVsock opens the enclave's vsock listener.
func ListenVsock(port uint32) (net.Listener, error) {
	listener, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return listener, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve(listener net.Listener) error {
	semaphore := make(chan struct{}, s.maxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", s.maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Printf("INFO: Listener closed, stopping server")
				return nil
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	response := s.HandleRequest(raw)

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// HandleRequest decodes one request and returns the value to send back.
func (s *Server) HandleRequest(raw []byte) any {
	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return errorResponse(fmt.Sprintf("Failed to decode request: %v", err))
	}

	log.Printf("INFO: Received request type: %s", baseReq.Type)

	switch baseReq.Type {
	case enclaveapi.RequestTypePing:
		return map[string]any{
			"type":      enclaveapi.ResponseTypePong,
			"message":   "sandbox is healthy",
			"timestamp": time.Now().Unix(),
		}

	case enclaveapi.RequestTypeKey:
		var keyReq enclaveapi.KeyRequest
		if err := json.Unmarshal(raw, &keyReq); err != nil {
			return errorResponse(fmt.Sprintf("Failed to decode key request: %v", err))
		}
		keyResp, err := HandleKeyRequest(s.attester, s.keyManager, keyReq)
		if err != nil {
			log.Printf("ERROR: Key request failed: %v", err)
			return errorResponse(fmt.Sprintf("Key request failed: %v", err))
		}
		return keyResp

	case enclaveapi.RequestTypeSealedBid, enclaveapi.RequestTypeDutch, enclaveapi.RequestTypeBatch:
		var req enclaveapi.ComputationRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("ERROR: Failed to decode computation request: %v", err)
			return errorResponse(fmt.Sprintf("Failed to decode computation request: %v", err))
		}
		resp := s.processor.Process(&req)
		log.Printf("INFO: Computation %s processed: success=%t (%dms)", req.RequestID, resp.Success, resp.ProcessingTime)
		return resp

	default:
		return errorResponse(fmt.Sprintf("Unknown request type: %s", baseReq.Type))
	}
}

func errorResponse(message string) map[string]any {
	return map[string]any{
		"type":    enclaveapi.ResponseTypeError,
		"message": message,
	}
}

// GetRequiredEnvInt parses a required integer environment variable.
func GetRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}
