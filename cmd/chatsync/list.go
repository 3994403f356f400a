package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prismer-ai/chatsync"
)

var (
	listQuery string
	listJSON  bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(clearCmd)
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "only show chats whose title or messages contain this text")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print chats as JSON")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted chats",
	Long:  "List the chats in the configured storage, pinned first, then most recent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		pinned, recent := chatsync.Sections(sessions.Search(listQuery))
		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(append(pinned, recent...))
		}

		if len(pinned)+len(recent) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		heading := color.New(color.FgMagenta, color.Bold)
		muted := color.New(color.FgHiBlack)
		printSection := func(name string, chats []chatsync.Chat) {
			if len(chats) == 0 {
				return
			}
			heading.Println(name)
			for _, c := range chats {
				fmt.Printf("  %-32s %3d msgs  %s  %s\n", c.Title, len(c.Messages),
					muted.Sprint(c.LastActivity.Local().Format("2006-01-02 15:04")), muted.Sprint(c.ID))
			}
		}
		printSection("Pinned", pinned)
		printSection("Recent", recent)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, closeFn, err := openSessions(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		n := len(sessions.List())
		sessions.ClearAll(cmd.Context())
		fmt.Printf("Deleted %d chats.\n", n)
		return nil
	},
}
