package parser

import (
	"fmt"
	"regexp"
	"strings"

	"zerodust/pkg/types"
)

// sweepPattern matches "<source> to <destination>" with an optional leading "sweep".
// Chain references may contain spaces ("base sepolia").
var sweepPattern = regexp.MustCompile(`(?i)^(?:sweep\s+)?(?:from\s+)?(.+?)\s+(?:to|->)\s+(.+)$`)

// ParseSweepCommand parses a sweep command
// Examples:
//   - "sweep sepolia to base-sepolia"
//   - "11155111 to 84532"
//   - "sweep from Arbitrum Sepolia -> Base Sepolia"
func ParseSweepCommand(command string) (*types.SweepRequest, error) {
	command = strings.Join(strings.Fields(command), " ")

	matches := sweepPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid sweep command format. Expected: 'sweep <source chain> to <destination chain>' (e.g., 'sweep sepolia to base-sepolia')")
	}

	req := &types.SweepRequest{
		SourceChain: strings.TrimSpace(matches[1]),
		DestChain:   strings.TrimSpace(matches[2]),
	}
	if err := ValidateSweepRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateSweepRequest validates that a sweep request names two distinct chains
func ValidateSweepRequest(req *types.SweepRequest) error {
	if req.SourceChain == "" {
		return fmt.Errorf("source chain is required")
	}
	if req.DestChain == "" {
		return fmt.Errorf("destination chain is required")
	}
	if strings.EqualFold(req.SourceChain, req.DestChain) {
		return fmt.Errorf("source and destination chains must differ")
	}
	return nil
}
