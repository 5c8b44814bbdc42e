package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	askVerbose      bool
	unansweredLimit int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question",
	Long: `Answers one question, or reads questions from stdin one per line when no
argument is given. Answers are printed with their sources.`,
	RunE: runAsk,
}

var addPairCmd = &cobra.Command{
	Use:   "add-pair [question] [answer]",
	Short: "Add a training pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		p, err := a.admin.AddPair(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s: %q\n", p.ID, p.Question)
		return nil
	},
}

var deletePairCmd = &cobra.Command{
	Use:   "delete-pair [question]",
	Short: "Delete the training pairs asked by a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.admin.DeletePair(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d pair(s)\n", n)
		return nil
	},
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List training pairs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		pairs, err := a.admin.Pairs(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDED\tQUESTION\tANSWER")
		for _, p := range pairs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.AddedAt.Format("2006-01-02 15:04"), p.Question, oneLine(p.Answer, 60))
		}
		return tw.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		s, err := a.admin.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "documents:      %d\n", s.DocumentCount)
		fmt.Fprintf(out, "training pairs: %d\n", s.TrainingPairCount)
		fmt.Fprintf(out, "chunks:         %d\n", s.ChunkCount)
		fmt.Fprintf(out, "index size:     %d\n", s.IndexSize)
		fmt.Fprintf(out, "model:          %s\n", s.ModelInfo)
		return nil
	},
}

var unansweredCmd = &cobra.Command{
	Use:   "unanswered",
	Short: "List unanswered questions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		items, err := a.admin.Unanswered(cmd.Context(), unansweredLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ASKED\tCONFIDENCE\tQUESTION")
		for _, u := range items {
			fmt.Fprintf(tw, "%s\t%.3f\t%s\n", u.AskedAt.Format("2006-01-02 15:04:05"), u.Confidence, u.Question)
		}
		return tw.Flush()
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-chunk and re-embed every document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.admin.Rebuild(cmd.Context()); err != nil {
			return err
		}
		s, err := a.admin.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d documents into %d chunks\n", s.DocumentCount, s.ChunkCount)
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [topic...]",
	Short: "Preload topics from the external sources",
	Long:  `Fetches each topic and stores the results. With no topic the configured
preload_topics, or a built-in general knowledge list, are fetched.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		reports, err := a.admin.Preload(cmd.Context(), args)
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOPIC\tFETCHED\tADDED\tERROR")
		for _, r := range reports {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Topic, r.Candidates, r.Added, r.Error)
		}
		if ferr := tw.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		return err
	},
}

func init() {
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "Print the state trace and confidence")
	unansweredCmd.Flags().IntVarP(&unansweredLimit, "limit", "n", 50, "Maximum entries to list")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	ask := func(q string) error {
		res, err := a.engine.Ask(cmd.Context(), q)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Text())
		if askVerbose {
			fmt.Fprintf(out, "  outcome=%s confidence=%.3f fetched=%d trace=%v\n", res.Outcome, res.Confidence, res.Fetched, res.Trace)
		}
		return nil
	}

	if len(args) > 0 {
		return ask(strings.Join(args, " "))
	}
	return askLines(cmd.InOrStdin(), ask)
}

// askLines answers each non-blank line of r in turn so follow-up
// questions share the conversation memory.
func askLines(r io.Reader, ask func(string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		if err := ask(q); err != nil {
			return err
		}
	}
	return sc.Err()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
