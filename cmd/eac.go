package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/service"
)

var eacCmd = &cobra.Command{
	Use:   "eac",
	Short: "Verify the device certificate and run Chip Authentication",
	Long: `Read the device certificate of a SmartCard-HSM, verify it against the
configured trust anchors and run EAC Chip Authentication with the certified
key. The curve and protocol come from the eac section of the configuration.`,
	Args: cobra.NoArgs,
	RunE: runEAC,
}

func init() {
	rootCmd.AddCommand(eacCmd)
}

func runEAC(cmd *cobra.Command, args []string) error {
	s, err := openCard()
	if err != nil {
		return err
	}
	defer s.Close()

	svc, err := s.service()
	if err != nil {
		return err
	}
	verifier, ok := svc.(service.Verifier)
	if !ok {
		return fmt.Errorf("card type %s offers no certificate verification", s.profile.CardType)
	}

	out := cmd.OutOrStdout()
	device, err := verifier.VerifyCertificate()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Device certificate: %s (issuer %s) verified\n", device.CHR(), device.CAR())

	cred, err := svc.(service.Authenticator).Authenticate()
	if err != nil {
		return err
	}
	printCredential(cmd, "Chip Authentication", cred.Path, cred.Level.String(), cred.SessionID.String())
	return nil
}

func printCredential(cmd *cobra.Command, protocol, path, level, session string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s succeeded\n", protocol)
	fmt.Fprintf(out, "  Path:    %s\n", path)
	fmt.Fprintf(out, "  Level:   %s\n", level)
	fmt.Fprintf(out, "  Session: %s\n", session)
}
