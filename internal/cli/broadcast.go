package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"spacewatch/internal/storage"
)

var (
	broadcastTopic   string
	broadcastMessage string
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Push a message to every active subscriber of a topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if broadcastMessage == "" {
			return errors.New("--message must be provided")
		}
		topic, err := storage.ParseTopic(broadcastTopic)
		if err != nil {
			return err
		}
		return getApp().Broadcast(cmd.Context(), topic, broadcastMessage)
	},
}

func init() {
	broadcastCmd.Flags().StringVar(&broadcastTopic, "topic", "", "Topic whose subscribers receive the message")
	broadcastCmd.Flags().StringVar(&broadcastMessage, "message", "", "Message text")
}
