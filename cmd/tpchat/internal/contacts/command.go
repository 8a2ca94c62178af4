package contacts

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikrant48/timepass-chat/cmd/tpchat/internal"
	"github.com/vikrant48/timepass-chat/pkg/history"
)

func NewContactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"ls"},
		Short:   "List chat partners and groups",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return contactsCmd()
		},
	}

	return cmd
}

func contactsCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := internal.RequireAuth(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fetcher := history.NewHTTPFetcher(cfg.Server.APIBaseURL, cfg.Auth.UserID, cfg.Auth.Token)
	dir := history.NewDirectory(fetcher)

	peers, err := dir.Peers(ctx)
	if err != nil {
		return fmt.Errorf("error listing users: %w", err)
	}
	fmt.Printf("%s Users:\n", internal.Logo)
	for _, p := range peers {
		marker := " "
		switch p.Status {
		case history.FriendAccepted:
			marker = "*"
		case history.FriendPending, history.FriendPendingReceived:
			marker = "?"
		}
		fmt.Printf("  %s %-20s %s\n", marker, p.Username, p.ID)
	}
	fmt.Println("  (* friend, ? request pending; chat requires friendship)")

	groups, err := dir.Groups(ctx)
	if err != nil {
		return fmt.Errorf("error listing groups: %w", err)
	}
	if len(groups) > 0 {
		fmt.Println("\nGroups:")
		for _, g := range groups {
			fmt.Printf("  %-20s %s (%d members)\n", g.Name, g.ID, g.Members)
		}
	}

	return nil
}
