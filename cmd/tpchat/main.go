package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal"
	chatcmd "github.com/vikrant48/timepass-chat/cmd/tpchat/internal/chat"
	configcmd "github.com/vikrant48/timepass-chat/cmd/tpchat/internal/config"
	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal/contacts"
	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal/version"
)

func NewTpchatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tpchat",
		Short:   internal.Logo + " tpchat - terminal client for TimePass chat",
		Example: "tpchat chat --peer <user-id>",
	}

	cmd.AddCommand(
		chatcmd.NewChatCommand(),
		contacts.NewContactsCommand(),
		configcmd.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewTpchatCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
