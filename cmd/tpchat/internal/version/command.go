package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("tpchat %s\n", internal.FormatVersion())
			fmt.Printf("  go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
