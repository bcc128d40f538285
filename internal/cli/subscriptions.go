package cli

import (
	"github.com/spf13/cobra"

	"spacewatch/internal/storage"
)

var (
	subscriptionsSubscriber string
	subscriptionsTopic      string
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "List a subscriber's active subscriptions, or a topic's active subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if subscriptionsSubscriber != "" {
			return getApp().Subscriptions(cmd.Context(), subscriptionsSubscriber)
		}
		topic, err := storage.ParseTopic(subscriptionsTopic)
		if err != nil {
			return err
		}
		return getApp().Subscribers(cmd.Context(), topic)
	},
}

func init() {
	subscriptionsCmd.Flags().StringVar(&subscriptionsSubscriber, "subscriber", "", "Subscriber id whose subscriptions are listed")
	subscriptionsCmd.Flags().StringVar(&subscriptionsTopic, "topic", string(storage.TopicDailyReport), "Topic whose subscribers are listed when --subscriber is empty")
}
