package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"

	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/validation"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		attestationPath = flag.String("attestation", "", "Path to key response JSON file (required)")
		pcrPath         = flag.String("pcrs", "", "Path to known PCR sets JSON file (required)")
		nonce           = flag.String("nonce", "", "Nonce sent with the key request")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help || *attestationPath == "" || *pcrPath == "" {
		showUsage()
		if !*help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	keyResponse, err := readKeyResponse(*attestationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading attestation: %v\n", err)
		os.Exit(2)
	}

	validator, err := validation.NewValidator(*pcrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCRs: %v\n", err)
		os.Exit(2)
	}

	result, err := validator.ValidateKeyAttestation(keyResponse, *nonce)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(keyResponse, result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
}

func showUsage() {
	logger.Info("Sandbox Key Attestation Validator")
	logger.Info("")
	logger.Info("Validates the sandbox x25519 public key before sealing bids to it.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --attestation <path> --pcrs <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --attestation <path>              Key response JSON (GET /sandbox/key)")
	logger.Info("  --pcrs <path>                     Known PCR sets JSON file")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --nonce <string>                  Nonce sent with the key request")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readKeyResponse(path string) (*enclaveapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var keyResponse enclaveapi.KeyResponse
	if err := json.Unmarshal(data, &keyResponse); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if keyResponse.AttestationCOSEBase64 == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in key response")
	}

	return &keyResponse, nil
}

func outputText(resp *enclaveapi.KeyResponse, result *validation.KeyValidationResult) {
	logger.Info("Sandbox Key Attestation Validator")
	logger.Info("=================================")
	logger.Info(fmt.Sprintf("Public Key: %s", resp.PublicKey))
	logger.Info("")

	logger.Info("Details:")
	for _, d := range result.ValidationDetails {
		logger.Info("  " + d)
	}

	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:         %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid:  %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:    %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Public Key Match:   %v", result.PublicKeyMatch))
	logger.Info(fmt.Sprintf("  Request Hash Valid: %v", result.RequestHashValid))

	logger.Info("")
	logger.Info("=================================")
	if result.IsValid() {
		logger.Info(color.GreenString("VALIDATION: ✓ PASSED"))
	} else {
		logger.Info(color.RedString("VALIDATION: ✗ FAILED"))
	}
}

func outputJSON(result *validation.KeyValidationResult) error {
	output := struct {
		Valid bool `json:"valid"`
		*validation.KeyValidationResult
	}{result.IsValid(), result}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
