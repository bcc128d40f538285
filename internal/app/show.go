package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"spacewatch/internal/storage"
)

// Show prints recent Kp readings, or recent delivery records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	backend, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	if opts.Deliveries {
		records, err := backend.ListRecentDeliveries(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printDeliveries(os.Stdout, records)
	}

	rows, err := backend.ListRecentGeomagnetic(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return printGeomagnetic(os.Stdout, rows)
}

func printGeomagnetic(w io.Writer, rows []storage.GeomagneticRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKp\tLevel\tG-Scale")
	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%.2f\t%s\t%s\n",
			row.RecordedAt.UTC().Format(time.RFC3339),
			row.Kp,
			row.Level,
			row.GScale,
		)
	}
	return writer.Flush()
}

func printDeliveries(w io.Writer, records []storage.DeliveryRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "no deliveries found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTopic\tSubscriber\tOK\tPreview\tError")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.DeliveredAt.UTC().Format(time.RFC3339),
			rec.Topic,
			rec.SubscriberID,
			rec.Success,
			sanitizeInline(rec.Preview),
			sanitizeInline(rec.Error),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
