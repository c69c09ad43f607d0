package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Identify the card in the reader",
	Long: `Match the card ATR against the profile table and print the card type
and the services able to drive it. Ambiguous profiles are confirmed with a
SELECT probe.`,
	Args: cobra.NoArgs,
	RunE: runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	s, err := openCard()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reader:     %s\n", s.conn.reader)
	fmt.Fprintf(out, "ATR:        %X\n", s.conn.atr)
	if hist, err := dispatch.HistoricalBytes(s.conn.atr); err == nil {
		fmt.Fprintf(out, "Historical: %X\n", hist)
	}
	fmt.Fprintf(out, "Profile:    %s\n", s.profile.Name)
	fmt.Fprintf(out, "Card type:  %s\n", s.profile.CardType)
	fmt.Fprintf(out, "Services:   %s\n", strings.Join(s.profile.Services, ", "))
	return nil
}
