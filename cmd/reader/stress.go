// go-st25r
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-st25r.
//
// go-st25r is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-st25r is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-st25r; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-st25r/client"
	"github.com/ZaparooProject/go-st25r/protocol"
)

// StressTestResult holds the final result for a tag test.
type StressTestResult struct {
	UID       string
	Model     string
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
	Success   bool
}

// TagTestState tracks the testing state for a single tag.
type TagTestState struct {
	Started     time.Time
	UID         string
	Model       string
	CurrentTest string
	Original    map[byte]uint32
	OpLog       []LogEntry
	Passed      int
	Failed      int
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	TagUID       string     `json:"tag_uid"`
	Model        string     `json:"model"`
	Operation    string     `json:"operation"`
	Error        string     `json:"error"`
	Pattern      string     `json:"pattern"`
	SystemBlock  string     `json:"system_block,omitempty"`
	RawTagDump   []string   `json:"raw_tag_dump,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Block     int       `json:"block"`
	Value     string    `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// tagTestContext holds common parameters for tag testing functions.
type tagTestContext struct {
	client *client.Client
	out    io.Writer
	state  *TagTestState
	result *StressTestResult
	dir    string
}

// retestDelay paces re-selection of a tag that is still in the field.
const retestDelay = 200 * time.Millisecond

// testPattern is one write/read/verify pass over the user blocks.
type testPattern int

const (
	patternZeros testPattern = iota
	patternWalking
	patternRandom
)

var testPatterns = []testPattern{patternZeros, patternWalking, patternRandom}

func (p testPattern) String() string {
	switch p {
	case patternZeros:
		return "zeros"
	case patternWalking:
		return "walking"
	case patternRandom:
		return "random"
	default:
		return "unknown"
	}
}

// value returns the value the pattern writes to block.
func (p testPattern) value(block byte) uint32 {
	switch p {
	case patternWalking:
		return 1 << (uint(block) % 32)
	case patternRandom:
		var b [4]byte
		_, _ = rand.Read(b[:])
		return binary.LittleEndian.Uint32(b[:])
	default:
		return 0
	}
}

func printStressTestBanner(out io.Writer) {
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
	_, _ = fmt.Fprintln(out, "                        ST25TB Block Stress Test Mode")
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
	_, _ = fmt.Fprintf(out, "Tests: %d patterns over blocks %d..%d, original data restored\n",
		len(testPatterns), firstUserBlock, lastUserBlock)
}

// runStressTestMode tests cfg.count tags, one at a time, or tags until
// ctx is done when count is zero.
func runStressTestMode(ctx context.Context, c *client.Client, cfg *config, out io.Writer) error {
	printStressTestBanner(out)

	var results []*StressTestResult
	defer func() { printFinalSummary(out, results) }()

	var last protocol.TagID
	_, _ = fmt.Fprintln(out, "\nWaiting for tag... (Press Ctrl+C to exit)")
	for tagNum := 1; cfg.count == 0 || tagNum <= cfg.count; {
		info, err := c.DiscoverSelect(ctx, protocol.ProtocolST25TB)
		if err != nil {
			return fmt.Errorf("select: %w", err)
		}
		st, ok := info.(*protocol.ST25TB)
		if !ok {
			return fmt.Errorf("selected %s, not an ST25TB", info.Type())
		}
		if st.ID().Equal(last) {
			// still the tag just tested
			if err := c.Idle(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retestDelay):
			}
			continue
		}
		last = st.ID()
		d := client.DescribeST25TBUID(st.UID)
		printTagHeader(out, tagNum, d)

		result := runStressTestForTag(ctx, &tagTestContext{
			client: c,
			out:    out,
			dir:    cfg.reportDir,
			state: &TagTestState{
				UID:      d.UID,
				Model:    d.Model,
				Started:  time.Now(),
				Original: make(map[byte]uint32),
				OpLog:    make([]LogEntry, 0, 64),
			},
			result: &StressTestResult{UID: d.UID, Model: d.Model},
		})
		results = append(results, result)

		if err := c.Idle(ctx); err != nil {
			return err
		}
		if !result.Success && ctx.Err() != nil {
			return ctx.Err()
		}
		tagNum++
		_, _ = fmt.Fprintln(out, "\nRemove the tag to test the next one...")
	}
	return nil
}

func printTagHeader(out io.Writer, tagNum int, d client.ST25TBInfo) {
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, strings.Repeat("-", 80))
	_, _ = fmt.Fprintf(out, "[TAG %d] UID=%s  Model=%s  Manufacturer=%s\n",
		tagNum, d.UID, d.Model, d.Manufacturer)
	_, _ = fmt.Fprintln(out, strings.Repeat("-", 80))
}

func runStressTestForTag(ctx context.Context, tc *tagTestContext) *StressTestResult {
	if err := saveOriginal(ctx, tc); err != nil {
		_, _ = fmt.Fprintf(tc.out, "  [!] Failed to read tag: %v\n", err)
		tc.state.Failed = len(testPatterns)
		tc.result.Failed = tc.state.Failed
		return tc.result
	}

	testErr := runTests(ctx, tc)

	if err := restoreOriginal(ctx, tc); err != nil {
		_, _ = fmt.Fprintf(tc.out, "  [!] Failed to restore original data: %v\n", err)
		testErr = errors.Join(testErr, err)
	}

	tc.result.Passed = tc.state.Passed
	tc.result.Failed = tc.state.Failed
	tc.result.Duration = time.Since(tc.state.Started)
	tc.result.Success = testErr == nil && tc.state.Failed == 0

	printTagTestSummary(tc.out, tc.result)
	return tc.result
}

func saveOriginal(ctx context.Context, tc *tagTestContext) error {
	for block := byte(firstUserBlock); block <= lastUserBlock; block++ {
		v, err := tc.client.ReadBlock(ctx, block)
		if err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		tc.state.Original[block] = v
	}
	return nil
}

func restoreOriginal(ctx context.Context, tc *tagTestContext) error {
	for block := byte(firstUserBlock); block <= lastUserBlock; block++ {
		if err := tc.client.WriteBlock(ctx, block, tc.state.Original[block]); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
	}
	return nil
}

func runTests(ctx context.Context, tc *tagTestContext) error {
	for _, pattern := range testPatterns {
		tc.state.CurrentTest = pattern.String()
		if err := runSingleTest(ctx, tc, pattern); err != nil {
			tc.state.Failed++
			handleTestFailure(ctx, tc, err)
			return err
		}
		tc.state.Passed++
	}
	return nil
}

// runSingleTest writes the pattern to every user block, then reads and
// verifies each block.
func runSingleTest(ctx context.Context, tc *tagTestContext, pattern testPattern) error {
	written := make(map[byte]uint32)

	_, _ = fmt.Fprintf(tc.out, "  [%s] Write... ", pattern)
	for block := byte(firstUserBlock); block <= lastUserBlock; block++ {
		v := pattern.value(block)
		err := tc.client.WriteBlock(ctx, block, v)
		tc.log("write", block, v, err)
		if err != nil {
			_, _ = fmt.Fprintln(tc.out, "FAIL")
			return fmt.Errorf("write block %d failed: %w", block, err)
		}
		written[block] = v
	}
	_, _ = fmt.Fprint(tc.out, "OK  Read/Verify... ")

	for block := byte(firstUserBlock); block <= lastUserBlock; block++ {
		v, err := tc.client.ReadBlock(ctx, block)
		tc.log("read", block, v, err)
		if err != nil {
			_, _ = fmt.Fprintln(tc.out, "FAIL")
			return fmt.Errorf("read block %d failed: %w", block, err)
		}
		if v != written[block] {
			_, _ = fmt.Fprintln(tc.out, "FAIL")
			return fmt.Errorf("block %d mismatch: expected %s, got %s",
				block, blockString(written[block]), blockString(v))
		}
	}
	_, _ = fmt.Fprintln(tc.out, "OK")
	return nil
}

func (tc *tagTestContext) log(op string, block byte, v uint32, err error) {
	entry := LogEntry{
		Timestamp: time.Now(),
		Operation: op,
		Block:     int(block),
		Value:     blockString(v),
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	tc.state.OpLog = append(tc.state.OpLog, entry)
}

func handleTestFailure(ctx context.Context, tc *tagTestContext, testErr error) {
	_, _ = fmt.Fprintf(tc.out, "\n  [!] FAILURE at %s test: %v\n", tc.state.CurrentTest, testErr)

	report := createCrashReport(tc.state, testErr)
	report.SystemBlock, report.RawTagDump = dumpEntireTag(ctx, tc.client)

	filename, err := writeCrashReportToFile(tc.dir, report)
	if err != nil {
		_, _ = fmt.Fprintf(tc.out, "  [!] Failed to write crash report: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(tc.out, "  Creating crash report... %s\n", filename)
	tc.result.CrashFile = filename
}

// dumpEntireTag reads blocks 0..15 and the system block. Unreadable
// blocks are reported in place.
func dumpEntireTag(ctx context.Context, c *client.Client) (string, []string) {
	var system string
	if v, err := c.ReadSystemBlock(ctx); err == nil {
		system = blockString(v)
	}
	lines := make([]string, 0, lastUserBlock+1)
	for block := byte(0); block <= lastUserBlock; block++ {
		v, err := c.ReadBlock(ctx, block)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Block %02d: error: %v", block, err))
			continue
		}
		lines = append(lines, fmt.Sprintf("Block %02d: %s", block, blockString(v)))
	}
	return system, lines
}

func createCrashReport(state *TagTestState, err error) *CrashReport {
	return &CrashReport{
		Timestamp:    time.Now(),
		TagUID:       state.UID,
		Model:        state.Model,
		Operation:    state.CurrentTest,
		Pattern:      state.CurrentTest,
		Error:        err.Error(),
		OperationLog: state.OpLog,
	}
}

func writeCrashReportToFile(dir string, report *CrashReport) (string, error) {
	uidSafe := strings.ReplaceAll(report.TagUID, ":", "")
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("stress_test_crash_%s_%s.json", uidSafe, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}

	return filename, nil
}

func printTagTestSummary(out io.Writer, result *StressTestResult) {
	status := "PASS"
	if !result.Success {
		status = "FAIL"
	}

	_, _ = fmt.Fprintf(out, "\n  [%s] %s - %d/%d tests passed - %s\n",
		status,
		result.UID,
		result.Passed,
		len(testPatterns),
		result.Duration.Round(100*time.Millisecond),
	)
}

func printFinalSummary(out io.Writer, results []*StressTestResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
	_, _ = fmt.Fprintln(out, "                              STRESS TEST SUMMARY")
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))

	passCount := 0
	failCount := 0
	crashCount := 0

	_, _ = fmt.Fprintf(out, "Tags tested: %d\n", len(results))
	for _, tagResult := range results {
		status := "PASS"
		if tagResult.Success {
			passCount++
		} else {
			status = "FAIL"
			failCount++
			if tagResult.CrashFile != "" {
				crashCount++
			}
		}

		_, _ = fmt.Fprintf(out, "  [%s] %s (%s) - %d/%d tests\n",
			status, tagResult.UID, tagResult.Model, tagResult.Passed, len(testPatterns))
	}

	_, _ = fmt.Fprintf(out, "\nOverall: %d PASS, %d FAIL\n", passCount, failCount)
	if crashCount > 0 {
		_, _ = fmt.Fprintf(out, "Crash reports written: %d\n", crashCount)
	}
	_, _ = fmt.Fprintln(out, strings.Repeat("=", 80))
}
