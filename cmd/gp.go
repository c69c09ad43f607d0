package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/scp02"
	"github.com/gregLibert/smartcard-middleware/pkg/service"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

var gpCmd = &cobra.Command{
	Use:   "gp",
	Short: "GlobalPlatform card content management over SCP02",
	Long: `Open an SCP02 secure channel with the security domain using the static
keys of the scp02 configuration section, then manage card content.

Examples:
  cardctl gp auth
  cardctl gp load applet.ijc --aid A000000001
  cardctl gp load applet.ijc --aid A000000001 --module A00000000101 --instance A00000000101
  cardctl gp delete A000000001 --related`,
}

var gpAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Open a secure channel with the security domain",
	Args:  cobra.NoArgs,
	RunE:  runGPAuth,
}

var gpLoadCmd = &cobra.Command{
	Use:   "load <load-file>",
	Short: "Load a package and optionally install an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runGPLoad,
}

var gpDeleteCmd = &cobra.Command{
	Use:   "delete <aid>",
	Short: "Delete a package or an application instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runGPDelete,
}

func init() {
	gpLoadCmd.Flags().String("aid", "", "load file AID (hex)")
	gpLoadCmd.Flags().String("module", "", "executable module AID to install (hex)")
	gpLoadCmd.Flags().String("instance", "", "application AID, defaults to the module AID (hex)")
	gpLoadCmd.Flags().String("privileges", "00", "application privileges (hex)")
	_ = gpLoadCmd.MarkFlagRequired("aid")

	gpDeleteCmd.Flags().Bool("related", false, "also delete related objects")

	gpCmd.AddCommand(gpAuthCmd)
	gpCmd.AddCommand(gpLoadCmd)
	gpCmd.AddCommand(gpDeleteCmd)
	rootCmd.AddCommand(gpCmd)
}

// openGP connects, opens the GlobalPlatform service and authenticates.
func openGP() (*cardSession, *service.GPService, error) {
	s, err := openCard()
	if err != nil {
		return nil, nil, err
	}
	svc, err := s.service()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	gp, ok := svc.(*service.GPService)
	if !ok {
		s.Close()
		return nil, nil, fmt.Errorf("card type %s is not managed through GlobalPlatform", s.profile.CardType)
	}
	if _, err := gp.Authenticate(); err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, gp, nil
}

func runGPAuth(cmd *cobra.Command, args []string) error {
	s, gp, err := openGP()
	if err != nil {
		return err
	}
	defer s.Close()

	cred := gp.Channel().Credential()
	printCredential(cmd, "SCP02", cred.Path, cred.Level.String(), cred.SessionID.String())
	fmt.Fprintf(cmd.OutOrStdout(), "  Option:  %s\n", gp.Channel().Option())
	return nil
}

func runGPLoad(cmd *cobra.Command, args []string) error {
	loadFile, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read load file: %w", err)
	}
	aid, err := hexFlag(cmd, "aid")
	if err != nil {
		return err
	}
	module, err := hexFlag(cmd, "module")
	if err != nil {
		return err
	}
	instance, err := hexFlag(cmd, "instance")
	if err != nil {
		return err
	}
	privileges, err := hexFlag(cmd, "privileges")
	if err != nil {
		return err
	}

	s, gp, err := openGP()
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	blocks, err := gp.LoadPackage(aid, loadFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %X: %d bytes in %d blocks\n", aid, len(loadFile), blocks)

	if module == nil {
		return nil
	}
	if instance == nil {
		instance = module
	}
	if err := gp.Install(scp02.InstallRequest{
		LoadFileAID:    aid,
		ModuleAID:      module,
		ApplicationAID: instance,
		Privileges:     privileges,
		Selectable:     true,
	}); err != nil {
		return err
	}
	fmt.Fprintf(out, "Installed %X\n", instance)
	return nil
}

func runGPDelete(cmd *cobra.Command, args []string) error {
	aid, err := tlv.ParseHex(args[0])
	if err != nil {
		return err
	}
	related, _ := cmd.Flags().GetBool("related")

	s, gp, err := openGP()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := gp.Delete(aid, related); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %X\n", aid)
	return nil
}

func hexFlag(cmd *cobra.Command, name string) ([]byte, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return nil, nil
	}
	b, err := tlv.ParseHex(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return b, nil
}
