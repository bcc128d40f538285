package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spacewatch/internal/service"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// TickOptions select which periodic task to run once.
type TickOptions struct {
	Name string
	At   time.Time
}

// Broadcast pushes a free-form message to every active subscriber of topic.
func (a *App) Broadcast(ctx context.Context, topic storage.Topic, message string) error {
	if err := a.requireDurable(); err != nil {
		return err
	}
	p, err := a.buildPipeline(ctx, a.newFetcher())
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.service.Broadcast(ctx, topic, message)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "sent %d/%d\n", res.Sent, res.Total)
	return nil
}

// Tick runs one pass of a periodic task outside the scheduler.
func (a *App) Tick(ctx context.Context, opts TickOptions) error {
	switch opts.Name {
	case service.TickDelivery, service.TickAlerts, service.TickRecord:
	default:
		return fmt.Errorf("unknown tick %q (want %s, %s or %s)", opts.Name, service.TickDelivery, service.TickAlerts, service.TickRecord)
	}
	if err := a.requireDurable(); err != nil {
		return err
	}

	p, err := a.buildPipeline(ctx, a.newFetcher())
	if err != nil {
		return err
	}
	defer p.Close()

	out := os.Stdout
	switch opts.Name {
	case service.TickDelivery:
		at := opts.At
		if at.IsZero() {
			at = time.Now()
		}
		res, err := p.service.RunScheduledDeliveryTick(ctx, at)
		if err != nil {
			return err
		}
		if !res.Ran {
			fmt.Fprintf(out, "slot %s: nothing due\n", res.Slot)
			return nil
		}
		fmt.Fprintf(out, "slot %s: matched=%d sent=%d total=%d\n", res.Slot, res.Matched, res.Result.Sent, res.Result.Total)
	case service.TickAlerts:
		outcomes, err := p.service.RunAlertCheckTick(ctx)
		if err != nil {
			return err
		}
		return printOutcomes(out, outcomes)
	case service.TickRecord:
		sum, err := p.service.RunRecordingTick(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "written=%s skipped=%s failed=%s\n",
			strings.Join(sum.Written, ","), strings.Join(sum.Skipped, ","), strings.Join(sum.Failed, ","))
	}
	return nil
}

// Subscribers lists the active subscribers of topic.
func (a *App) Subscribers(ctx context.Context, topic storage.Topic) error {
	if err := a.requireDurable(); err != nil {
		return err
	}
	p, err := a.buildPipeline(ctx, a.newFetcher())
	if err != nil {
		return err
	}
	defer p.Close()

	subs, err := p.subs.ListSubscribersByTopic(ctx, topic)
	if err != nil {
		return err
	}
	return printSubscribers(os.Stdout, topic, subs)
}

// Subscriptions lists the active subscriptions of one subscriber.
func (a *App) Subscriptions(ctx context.Context, subscriberID string) error {
	if err := a.requireDurable(); err != nil {
		return err
	}
	p, err := a.buildPipeline(ctx, a.newFetcher())
	if err != nil {
		return err
	}
	defer p.Close()

	return printSubscriptions(os.Stdout, p.subs.ListActive(ctx, subscriberID))
}

func printSubscriptions(w io.Writer, subs []storage.Subscription) error {
	if len(subs) == 0 {
		fmt.Fprintln(w, "no active subscriptions")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Topic\tSchedule\tSince (UTC)\tLast delivered (UTC)")
	for _, sub := range subs {
		last := "-"
		if sub.LastDeliveredAt != nil {
			last = sub.LastDeliveredAt.UTC().Format(time.RFC3339)
		}
		schedule := sub.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", sub.Topic, schedule, sub.SubscribedAt.UTC().Format(time.RFC3339), last)
	}
	return writer.Flush()
}

func printSubscribers(w io.Writer, topic storage.Topic, subs []subscription.Subscriber) error {
	if len(subs) == 0 {
		fmt.Fprintf(w, "no active subscribers for %s\n", topic)
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Subscriber\tSchedule")
	for _, sub := range subs {
		schedule := sub.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\n", sub.SubscriberID, schedule)
	}
	return writer.Flush()
}
