package harness

import (
	"fmt"
	"strings"

	"github.com/c360studio/roxid/output"
)

// Format selects a report output format.
type Format string

const (
	FormatTerminal Format = "terminal"
	FormatJUnit    Format = "junit"
	FormatTAP      Format = "tap"
)

// ParseFormat maps a CLI format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "terminal", "text", "console":
		return FormatTerminal, nil
	case "junit", "junit-xml", "xml":
		return FormatJUnit, nil
	case "tap":
		return FormatTAP, nil
	}
	return "", fmt.Errorf("unknown report format '%s': valid formats are terminal, junit, tap", name)
}

// Report renders a suite result in the requested format.
func Report(result *SuiteResult, format Format) string {
	switch format {
	case FormatJUnit:
		return RenderJUnit(result)
	case FormatTAP:
		return RenderTAP(result)
	}
	return RenderTerminal(result)
}

// RenderJUnit produces JUnit XML with one testcase per test. Failed
// tests carry one line per failed assertion inside the failure element.
func RenderJUnit(result *SuiteResult) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(&b, "<testsuites tests=\"%d\" failures=\"%d\" errors=\"0\" time=\"%.3f\">\n",
		result.Total, result.Failed, result.Duration.Seconds())
	fmt.Fprintf(&b, "  <testsuite name=\"%s\" tests=\"%d\" failures=\"%d\" errors=\"0\" time=\"%.3f\">\n",
		xmlEscape(result.SuiteName), result.Total, result.Failed, result.Duration.Seconds())

	for _, test := range result.Results {
		fmt.Fprintf(&b, "    <testcase name=\"%s\" time=\"%.3f\"", xmlEscape(test.Name), test.Duration.Seconds())
		if test.Passed {
			b.WriteString(" />\n")
			continue
		}
		b.WriteString(">\n")
		message := test.FailureMessage
		if message == "" {
			message = "Test failed"
		}
		fmt.Fprintf(&b, "      <failure message=\"%s\">\n", xmlEscape(message))
		for _, ar := range test.Assertions {
			if ar.Passed {
				continue
			}
			fmt.Fprintf(&b, "        FAIL: %s\n", xmlEscape(ar.Message))
			if ar.Detail != "" {
				fmt.Fprintf(&b, "          %s\n", xmlEscape(ar.Detail))
			}
		}
		b.WriteString("      </failure>\n")
		b.WriteString("    </testcase>\n")
	}

	b.WriteString("  </testsuite>\n")
	b.WriteString("</testsuites>\n")
	return b.String()
}

// RenderTAP produces TAP version 13 output with YAML diagnostic blocks
// for failures and a summary footer.
func RenderTAP(result *SuiteResult) string {
	var b strings.Builder
	b.WriteString("TAP version 13\n")
	fmt.Fprintf(&b, "1..%d\n", result.Total)

	for i, test := range result.Results {
		if test.Passed {
			fmt.Fprintf(&b, "ok %d - %s\n", i+1, test.Name)
			continue
		}
		fmt.Fprintf(&b, "not ok %d - %s\n", i+1, test.Name)
		b.WriteString("  ---\n")
		fmt.Fprintf(&b, "  duration_ms: %d\n", test.Duration.Milliseconds())
		if test.FailureMessage != "" {
			fmt.Fprintf(&b, "  message: %q\n", test.FailureMessage)
		}
		var failed []AssertionResult
		for _, ar := range test.Assertions {
			if !ar.Passed {
				failed = append(failed, ar)
			}
		}
		if len(failed) > 0 {
			b.WriteString("  failures:\n")
			for _, ar := range failed {
				fmt.Fprintf(&b, "    - assertion: %q\n", ar.Assertion)
				fmt.Fprintf(&b, "      message: %q\n", ar.Message)
				if ar.Detail != "" {
					fmt.Fprintf(&b, "      detail: %q\n", ar.Detail)
				}
			}
		}
		b.WriteString("  ...\n")
	}

	fmt.Fprintf(&b, "# tests %d\n# pass %d\n# fail %d\n# duration %.3fs\n",
		result.Total, result.Passed, result.Failed, result.Duration.Seconds())
	return b.String()
}

// RenderTerminal produces a colored pass/fail listing.
func RenderTerminal(result *SuiteResult) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(output.Header.Render("Test Suite: " + result.SuiteName))
	b.WriteString("\n")
	b.WriteString(output.Rule(60))
	b.WriteString("\n")

	for _, test := range result.Results {
		marker := output.Pass("PASS")
		if !test.Passed {
			marker = output.Fail("FAIL")
		}
		fmt.Fprintf(&b, "  [%s] %s %s\n", marker, test.Name,
			output.Dim.Render("("+output.Duration(test.Duration)+")"))
		if test.Passed {
			continue
		}
		if test.FailureMessage != "" && len(test.Assertions) == 0 {
			fmt.Fprintf(&b, "       %s\n", test.FailureMessage)
		}
		for _, ar := range test.Assertions {
			if ar.Passed {
				continue
			}
			fmt.Fprintf(&b, "       %s %s\n", output.Fail("FAIL:"), ar.Message)
			if ar.Detail != "" {
				fmt.Fprintf(&b, "             %s\n", output.Dim.Render(ar.Detail))
			}
		}
	}

	b.WriteString(output.Rule(60))
	b.WriteString("\n")
	if result.Failed == 0 {
		fmt.Fprintf(&b, "  All %d tests passed (%s)\n", result.Total, output.Duration(result.Duration))
	} else {
		fmt.Fprintf(&b, "  %d of %d tests failed (%s)\n", result.Failed, result.Total, output.Duration(result.Duration))
	}
	if result.Skipped > 0 {
		fmt.Fprintf(&b, "  %d tests skipped\n", result.Skipped)
	}
	b.WriteString("\n")
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(s)
}
