package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/sealedsettle/enclaveapi"
)

// pcrHexLen is a SHA-384 measurement in hex.
const pcrHexLen = 96

// LoadPCRsFromFile loads known sandbox image measurements. Every set must
// carry PCR0-2 as SHA-384 hex; values are normalized to lower case.
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}

	for i := range config.PCRSets {
		set := &config.PCRSets[i]
		for n, v := range []*string{&set.PCR0, &set.PCR1, &set.PCR2} {
			*v = strings.ToLower(strings.TrimSpace(*v))
			if _, err := hex.DecodeString(*v); err != nil || len(*v) != pcrHexLen {
				return nil, fmt.Errorf("PCR set #%d: PCR%d is not a SHA-384 hex digest", i, n)
			}
		}
	}

	return config.PCRSets, nil
}

// ValidatePCRs returns the index of the first known set matching PCR0-2, or
// false and -1.
func ValidatePCRs(pcrs enclaveapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if strings.EqualFold(pcrs.ImageFileHash, knownSet.PCR0) &&
			strings.EqualFold(pcrs.KernelHash, knownSet.PCR1) &&
			strings.EqualFold(pcrs.ApplicationHash, knownSet.PCR2) {
			return true, i
		}
	}
	return false, -1
}
