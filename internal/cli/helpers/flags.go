package helpers

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// FormatNames returns the flag spellings of formats.
func FormatNames(formats []OutputFormat) []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}

// AddFormatFlag registers --format/-o with shell completion for supported.
func AddFormatFlag(cmd *cobra.Command, formatVar *string, defaultFormat OutputFormat, supported []OutputFormat) {
	names := FormatNames(supported)
	cmd.Flags().StringVarP(formatVar, "format", "o", string(defaultFormat),
		fmt.Sprintf("Output format (%s)", strings.Join(names, ", ")))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(names, cobra.ShellCompDirectiveNoFileComp))
}

// AddVerboseFlag registers --verbose/-v.
func AddVerboseFlag(cmd *cobra.Command, verboseVar *bool) {
	cmd.Flags().BoolVarP(verboseVar, "verbose", "v", false, "Print the hottest frames of every profiled process")
}

// ValidateFormat rejects a format outside supported.
func ValidateFormat(format string, supported []OutputFormat) error {
	names := FormatNames(supported)
	for _, name := range names {
		if format == name {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q, must be one of: %s", format, strings.Join(names, ", "))
}
