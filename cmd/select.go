package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/iso7816"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

var selectCmd = &cobra.Command{
	Use:   "select <aid>",
	Short: "SELECT an application and decode its FCI",
	Args:  cobra.ExactArgs(1),
	RunE:  runSelect,
}

var readCmd = &cobra.Command{
	Use:   "read <fid>",
	Short: "SELECT an elementary file and READ BINARY its first bytes",
	Long: `Select an elementary file of the current DF by its two byte identifier
(hex) and print the first READ BINARY exchange. Use --aid to select the
application first.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().String("aid", "", "application to select before the file (hex)")
	rootCmd.AddCommand(selectCmd, readCmd)
}

func runSelect(cmd *cobra.Command, args []string) error {
	aid, err := tlv.ParseHex(args[0])
	if err != nil {
		return fmt.Errorf("aid: %w", err)
	}

	s, err := openReader()
	if err != nil {
		return err
	}
	defer s.Close()

	trace, err := s.client.Send(iso7816.SelectByAID(basicClass(), aid))
	if err != nil {
		return err
	}
	result, err := iso7816.NewSelectResult(trace)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), result.Describe())
	if !result.IsSuccess() {
		return iso7816.NewStatusError(trace[0].Command, result.Response().Status)
	}
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	fid, err := strconv.ParseUint(args[0], 16, 16)
	if err != nil {
		return fmt.Errorf("fid: %w", err)
	}
	aid, err := hexFlag(cmd, "aid")
	if err != nil {
		return err
	}

	s, err := openReader()
	if err != nil {
		return err
	}
	defer s.Close()

	cla := basicClass()
	if aid != nil {
		if _, err := s.client.Execute(iso7816.SelectByAID(cla, aid)); err != nil {
			return err
		}
	}
	if _, err := s.client.Execute(iso7816.SelectEF(cla, uint16(fid))); err != nil {
		return err
	}

	read, err := iso7816.ReadBinary(cla, 0, iso7816.MaxShortLe)
	if err != nil {
		return err
	}
	trace, err := s.client.Send(read)
	if err != nil {
		return err
	}
	result, err := iso7816.NewReadBinaryResult(trace)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Describe())
	return nil
}

func basicClass() iso7816.Class {
	cla, _ := iso7816.NewClass(0x00)
	return cla
}
