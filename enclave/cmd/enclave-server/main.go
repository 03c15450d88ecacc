package main

import (
	"log"

	"github.com/cloudx-io/sealedsettle/enclave"
)

const defaultPort = 5000

func main() {
	attester, err := enclave.GetEnclaveAttester()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	keyManager, err := enclave.NewKeyManager()
	if err != nil {
		log.Fatalf("ERROR: failed to initialize key manager: %v", err)
	}
	log.Printf("INFO: KeyManager initialized")

	maxWorkers, err := enclave.GetRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		log.Fatalf("ERROR: failed to get max workers config: %v", err)
	}

	port := defaultPort
	if p, err := enclave.GetRequiredEnvInt("ENCLAVE_PORT"); err == nil {
		port = p
	}

	listener, err := enclave.ListenVsock(uint32(port))
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: Sandbox server listening on vsock port %d", port)

	server := enclave.NewServer(attester, keyManager, maxWorkers)
	if err := server.Serve(listener); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}
