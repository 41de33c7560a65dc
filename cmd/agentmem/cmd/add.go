package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/store"
)

type addOptions struct {
	id       string
	metadata map[string]string
	format   string
}

func newAddCmd() *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory",
		Long: `Store a memory and index it for exact, lexical and vector search.

An existing memory with the same ID is replaced.

Examples:
  agentmem add "Alice drinks oat milk coffee every morning"
  agentmem add "Order shipped on 2026-03-02" --id ORD-1234
  agentmem add "Prefers window seats" --meta source=chat --meta user=alice`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Memory ID (generated when empty)")
	cmd.Flags().StringToStringVar(&opts.metadata, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runAdd(ctx context.Context, cmd *cobra.Command, content string, opts addOptions) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.ValidationError("memory content cannot be empty", nil)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id := strings.TrimSpace(opts.id)
	if id == "" {
		id = store.NewMemoryID()
	}

	mem := &store.Memory{ID: id, Content: content, Metadata: opts.metadata}
	if err := a.backends.Add(ctx, []*store.Memory{mem}); err != nil {
		a.logger.Error("memory_add_failed", slog.String("id", id), slog.String("error", err.Error()))
		return err
	}

	total, err := a.backends.Count(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("memory_added", slog.String("id", id), slog.Int("total", total))

	return newRenderer(cmd, opts.format).Added(id, total)
}
