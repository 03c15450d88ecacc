// Command result-validator checks a stored sandbox result before the
// authority authorizes settlement, and with the recipient key prints the
// winner and amount to execute.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/cloudx-io/sealedsettle/core"
	"github.com/cloudx-io/sealedsettle/enclaveapi"
	"github.com/cloudx-io/sealedsettle/validation"
)

// plainTextHandler writes bare messages to stdout for CLI output.
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *plainTextHandler) WithGroup(_ string) slog.Handler      { return h }

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		resultPath   = flag.String("result", "", "Path to result JSON file (required)")
		pcrPath      = flag.String("pcrs", "", "Path to known PCR sets JSON file (required)")
		keyPath      = flag.String("recipient-key", "", "Path to base64 x25519 recipient private key; enables decryption")
		recipientPub = flag.String("recipient-public-key", "", "Expected base64 recipient public key")
		outputFormat = flag.String("format", "text", "Output format: text or json")
	)
	flag.Parse()

	if *resultPath == "" || *pcrPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	result, err := readResult(*resultPath)
	if err != nil {
		fatal("Error reading result: %v", err)
	}

	validator, err := validation.NewValidator(*pcrPath)
	if err != nil {
		fatal("Error loading PCRs: %v", err)
	}

	var (
		recipient *enclaveapi.KeyPair
		expected  core.PublicKey
	)
	if *keyPath != "" {
		if recipient, err = readKeyPair(*keyPath); err != nil {
			fatal("Error reading recipient key: %v", err)
		}
		expected = recipient.Public
	}
	if *recipientPub != "" {
		if expected, err = core.ParsePublicKey(*recipientPub); err != nil {
			fatal("Error parsing recipient public key: %v", err)
		}
	}

	report, err := validator.ValidateResultAttestation(result, expected)
	if err != nil {
		fatal("Validation error: %v", err)
	}

	var decision *validation.Decision
	if recipient != nil && report.IsValid() {
		if decision, err = validation.OpenDecision(recipient, result); err != nil {
			fatal("Error opening result: %v", err)
		}
	}

	if *outputFormat == "json" {
		data, err := json.MarshalIndent(struct {
			Valid bool `json:"valid"`
			*validation.ResultValidationResult
			Decision *validation.Decision `json:"decision,omitempty"`
		}{report.IsValid(), report, decision}, "", "  ")
		if err != nil {
			fatal("Error marshaling JSON: %v", err)
		}
		logger.Info(string(data))
	} else {
		outputText(result, report, decision)
	}

	if !report.IsValid() {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

func readResult(path string) (*enclaveapi.SealedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var r enclaveapi.SealedResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &r, nil
}

func readKeyPair(path string) (*enclaveapi.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	var priv [32]byte
	if len(raw) != len(priv) {
		return nil, fmt.Errorf("invalid private key length: expected %d bytes, got %d", len(priv), len(raw))
	}
	copy(priv[:], raw)
	return enclaveapi.KeyPairFromPrivate(priv)
}

func outputText(r *enclaveapi.SealedResult, report *validation.ResultValidationResult, d *validation.Decision) {
	logger.Info("Sandbox Result Validator")
	logger.Info("========================")
	logger.Info(fmt.Sprintf("Request:    %s", r.RequestID))
	logger.Info(fmt.Sprintf("Kind:       %s", r.Kind))
	logger.Info(fmt.Sprintf("Subject:    %d", r.SubjectID))
	logger.Info(fmt.Sprintf("Commitment: %s", r.Commitment))
	logger.Info("")
	logger.Info("Details:")
	for _, line := range report.ValidationDetails {
		logger.Info("  " + line)
	}
	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:        %v", report.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid: %v", report.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", report.SignatureValid))
	logger.Info(fmt.Sprintf("  Binding Valid:     %v", report.BindingValid))
	logger.Info(fmt.Sprintf("  Commitment Valid:  %v", report.CommitmentValid))
	logger.Info(fmt.Sprintf("  Recipient Match:   %v", report.RecipientMatch))
	logger.Info(fmt.Sprintf("  Reserve Valid:     %v", report.ReserveValid))

	if d != nil {
		logger.Info("")
		logger.Info("Decision:")
		if d.HasWinner {
			logger.Info(fmt.Sprintf("  Winner: %s", d.Winner))
			logger.Info(fmt.Sprintf("  Amount: %d", d.Amount))
		} else {
			logger.Info("  No winner")
		}
	}

	logger.Info("")
	logger.Info("========================")
	if report.IsValid() {
		logger.Info(color.GreenString("VALIDATION: ✓ PASSED"))
	} else {
		logger.Info(color.RedString("VALIDATION: ✗ FAILED"))
	}
}
