package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/data-repository-service/internal/dataclient"
	"github.com/helixir/data-repository-service/internal/dataclient/httpclient"
	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/repository"
	"github.com/helixir/data-repository-service/internal/wire"
)

// Environment variables providing flag defaults.
const (
	envURL    = "DATAREPO_URL"
	envAPIKey = "DATAREPO_API_KEY"
	envUser   = "DATAREPO_USER"
)

type globalFlags struct {
	url        string
	collection string
	user       string
	apiKey     string
	timeout    time.Duration
	retries    int
}

type app struct {
	flags globalFlags
	in    io.Reader
	out   io.Writer
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:           "repoctl",
		Short:         "Read and write collections of a data repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.flags.collection == "" {
				return errors.New("--collection is required")
			}
			if a.flags.retries < 0 {
				return errors.New("--retries must not be negative")
			}
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.url, "url", envOr(envURL, "http://localhost:8080"), "base URL of the API (env "+envURL+")")
	pf.StringVarP(&a.flags.collection, "collection", "c", "", "collection to operate on")
	pf.StringVarP(&a.flags.user, "user", "u", envOr(envUser, ""), "scope every call to this user id (env "+envUser+")")
	pf.StringVar(&a.flags.apiKey, "api-key", envOr(envAPIKey, ""), "API key (env "+envAPIKey+")")
	pf.DurationVar(&a.flags.timeout, "timeout", 30*time.Second, "per-request timeout")
	pf.IntVar(&a.flags.retries, "retries", httpclient.DefaultMaxRetries, "retries for 429 and 5xx responses (0 disables)")

	root.AddCommand(
		a.createCmd(),
		a.getCmd(),
		a.listCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.countCmd(),
		a.aggregateCmd(),
	)
	return root
}

func (a *app) repo() (*repository.Repository[domain.Document], error) {
	client, err := httpclient.New[domain.Document](httpclient.Config{
		BaseURL:    a.flags.url,
		Collection: a.flags.collection,
		Timeout:    a.flags.timeout,
		MaxRetries: a.flags.retries,
		UserAgent:  "repoctl",
		APIKey:     a.flags.apiKey,
	})
	if err != nil {
		return nil, err
	}
	return repository.New[domain.Document](client), nil
}

func (a *app) scope() []repository.Option {
	if a.flags.user == "" {
		return nil
	}
	return []repository.Option{repository.WithUserID(a.flags.user)}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readArg returns arg, or stdin when arg is "-".
func (a *app) readArg(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	raw, err := io.ReadAll(a.in)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return raw, nil
}

func (a *app) readDocument(arg string) (domain.Document, error) {
	raw, err := a.readArg(arg)
	if err != nil {
		return nil, err
	}
	doc, err := dataclient.DecodeDocument(raw)
	if err != nil || doc == nil {
		return nil, errors.New("document must be a JSON object")
	}
	return doc, nil
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create DOCUMENT|-",
		Short: "Create an item from a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.readDocument(args[0])
			if err != nil {
				return err
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			created, err := repo.Create(cmd.Context(), doc, a.scope()...)
			if err != nil {
				return err
			}
			return a.print(created)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Read one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repo()
			if err != nil {
				return err
			}
			item, err := repo.Read(cmd.Context(), args[0], a.scope()...)
			if err != nil {
				return err
			}
			return a.print(item)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		filter string
		sort   string
		limit  int
		cursor string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, optionally filtered and sorted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := wire.DecodeFilter(filter)
			if err != nil {
				return err
			}
			keys, err := wire.DecodeSort(sort)
			if err != nil {
				return err
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}

			page := &domain.PaginationOptions{}
			if limit > 0 {
				page.Limit = &limit
			}
			if cursor != "" {
				page.Cursor = &cursor
			}
			opts := append(a.scope(),
				repository.WithFilter(f),
				repository.WithSort(keys...),
				repository.WithPagination(page),
			)

			if !all {
				result, err := repo.ReadAll(cmd.Context(), opts...)
				if err != nil {
					return err
				}
				if result.Items == nil {
					result.Items = []domain.Document{}
				}
				return a.print(result)
			}

			items := []domain.Document{}
			for {
				result, err := repo.ReadAll(cmd.Context(), opts...)
				if err != nil {
					return err
				}
				items = append(items, result.Items...)
				if !result.HasMore || result.NextCursor == nil {
					break
				}
				page.Cursor = result.NextCursor
			}
			return a.print(items)
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", `filter document, e.g. '{"done":false}'`)
	cmd.Flags().StringVar(&sort, "sort", "", `sort keys, e.g. "priority:desc,title"`)
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continuation cursor from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors and print every matching item")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update ID DOCUMENT|-",
		Short: "Replace an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.readDocument(args[1])
			if err != nil {
				return err
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			updated, err := repo.Update(cmd.Context(), args[0], doc, a.scope()...)
			if err != nil {
				return err
			}
			return a.print(updated)
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repo()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := repo.Delete(cmd.Context(), id, a.scope()...); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(a.out, "deleted %s\n", id)
			}
			return nil
		},
	}
}

func (a *app) countCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count items matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := wire.DecodeFilter(filter)
			if err != nil {
				return err
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			n, err := repo.Count(cmd.Context(), f, a.scope()...)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "filter document")
	return cmd
}

func (a *app) aggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate PIPELINE|-",
		Short: "Run an aggregation pipeline given as a JSON array of stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readArg(args[0])
			if err != nil {
				return err
			}
			if !strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
				return errors.New("pipeline must be a JSON array")
			}
			pipeline, err := dataclient.DecodeJSON[[]domain.Document](raw)
			if err != nil {
				return errors.New("pipeline must be a JSON array of stage objects")
			}
			repo, err := a.repo()
			if err != nil {
				return err
			}
			docs, err := repo.Aggregate(cmd.Context(), pipeline, a.scope()...)
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []domain.Document{}
			}
			return a.print(docs)
		},
	}
}
