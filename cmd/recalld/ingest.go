package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/coordinator"
	"github.com/fyrsmithlabs/recalld/internal/events"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 1024 * 1024

func newIngestCmd() *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl|->",
		Short: "Ingest a JSONL export of messages",
		Long: `Ingest reads one message per line and stores it in batches of
server.max_batch_size. With --publish each message is sent as a created
event to the running daemon over NATS instead.

Examples:
  recalld ingest export.jsonl
  cat export.jsonl | recalld ingest -
  recalld ingest --publish export.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			if publish {
				return runPublish(cmd.Context(), cmd.OutOrStdout(), in)
			}
			return runIngest(cmd.Context(), cmd.OutOrStdout(), in)
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "send created events over NATS instead of writing directly")
	return cmd
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// readMessages decodes JSONL, calling fn for every record.
func readMessages(r io.Reader, fn func(chat.Inbound) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var in chat.Inbound
		if err := json.Unmarshal(sc.Bytes(), &in); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(in); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func runIngest(ctx context.Context, out io.Writer, r io.Reader) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var total coordinator.BatchResult
	batch := make([]chat.Inbound, 0, cfg.Server.MaxBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := a.coordinator.CreateBatch(ctx, batch)
		if err != nil {
			return err
		}
		total.StoredCount += res.StoredCount
		total.VectorizedCount += res.VectorizedCount
		batch = batch[:0]
		return nil
	}

	read := 0
	err = readMessages(r, func(in chat.Inbound) error {
		read++
		batch = append(batch, in)
		if len(batch) == cfg.Server.MaxBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	logger.Info(ctx, "ingest finished",
		zap.Int("read", read),
		zap.Int("stored", total.StoredCount),
		zap.Int("vectorized", total.VectorizedCount),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "read %d, stored %d, vectorized %d\n", read, total.StoredCount, total.VectorizedCount)
	return nil
}

func runPublish(ctx context.Context, out io.Writer, r io.Reader) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	nc, err := events.Connect(cfg.Events, logger.Underlying().Named("events"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()
	pub := events.NewPublisher(nc, cfg.Events)

	var sent, stored int
	err = readMessages(r, func(in chat.Inbound) error {
		rctx, cancel := context.WithTimeout(ctx, cfg.Events.HandlerTimeout)
		defer cancel()
		ack, err := pub.Request(rctx, events.KindCreated, in)
		if err != nil {
			return err
		}
		sent++
		if ack.Stored {
			stored++
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d, stored %d\n", sent, stored)
	return nil
}
