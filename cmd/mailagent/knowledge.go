package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhle/mailagent/internal/knowledge"
	"github.com/nhle/mailagent/internal/model"
	"github.com/nhle/mailagent/internal/store"
)

var (
	knowledgeAgent  string
	knowledgeSource string
	knowledgeTitle  string
	knowledgeLimit  int

	templateGreeting   string
	templateBody       string
	templateBestRegard string
	templateSignature  string
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge replies are grounded in",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a text file as a knowledge entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeAdd,
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the entries a reply to the query would use",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKnowledgeSearch,
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Set the agent's reply template",
	Long: `The body may use the {{sender}}, {{body}}, {{bestRegard}} and
{{agentName}} placeholders.`,
	RunE: runTemplate,
}

func init() {
	for _, c := range []*cobra.Command{knowledgeAddCmd, knowledgeSearchCmd, templateCmd} {
		c.Flags().StringVar(&knowledgeAgent, "agent", "", "agent id (defaults to agent.id from config)")
	}
	knowledgeAddCmd.Flags().StringVar(&knowledgeSource, "source", "", "source label (defaults to the file name)")
	knowledgeAddCmd.Flags().StringVar(&knowledgeTitle, "title", "", "entry title (defaults to the file name)")
	knowledgeSearchCmd.Flags().IntVar(&knowledgeLimit, "limit", 3, "maximum number of entries")

	templateCmd.Flags().StringVar(&templateGreeting, "greeting", "", "greeting line")
	templateCmd.Flags().StringVar(&templateBody, "body", "", "body with placeholders")
	templateCmd.Flags().StringVar(&templateBestRegard, "best-regard", "", "closing line")
	templateCmd.Flags().StringVar(&templateSignature, "signature", "", "signature")

	knowledgeCmd.AddCommand(knowledgeAddCmd, knowledgeSearchCmd)
	rootCmd.AddCommand(knowledgeCmd, templateCmd)
}

func agentID() string {
	if knowledgeAgent != "" {
		return knowledgeAgent
	}
	return cfg.Agent.ID
}

func openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func runKnowledgeAdd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("%s is empty", args[0])
	}

	name := filepath.Base(args[0])
	entry := model.KnowledgeEntry{
		AgentID: agentID(),
		Source:  knowledgeSource,
		Title:   knowledgeTitle,
		Text:    text,
	}
	if entry.Source == "" {
		entry.Source = name
	}
	if entry.Title == "" {
		entry.Title = strings.TrimSuffix(name, filepath.Ext(name))
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.AddKnowledge(cmd.Context(), entry); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %q for agent %s.\n", entry.Title, entry.AgentID)
	return nil
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snippets, err := knowledge.NewSearcher(st).Search(cmd.Context(), agentID(), strings.Join(args, " "), knowledgeLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(snippets) == 0 {
		fmt.Fprintln(out, "No matching knowledge.")
		return nil
	}
	for i, s := range snippets {
		fmt.Fprintf(out, "%d. %s (%s, score %.2f)\n", i+1, s.Title, s.Source, s.Score)
	}
	return nil
}

func runTemplate(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	t := model.ReplyTemplate{
		AgentID:    agentID(),
		Greeting:   templateGreeting,
		Body:       templateBody,
		BestRegard: templateBestRegard,
		Signature:  templateSignature,
	}
	if err := st.UpsertReplyTemplate(cmd.Context(), t); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved reply template for agent %s.\n", t.AgentID)
	return nil
}
