package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/config"
	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
)

var cvcCmd = &cobra.Command{
	Use:   "cvc",
	Short: "Card verifiable certificate tools",
}

var cvcVerifyCmd = &cobra.Command{
	Use:   "verify <file>...",
	Short: "Verify a CVC chain against a trust anchor",
	Long: `Parse the certificates held by the given files and verify them from the
trust anchor down to the leaf. The files may list the certificates in any
order; the chain is rebuilt from CAR / CHR links.

--domain names a curve (p256, p384, p521, brainpoolP256r1, brainpoolP384r1)
or a file holding a hex encoded '7F49' template. It is only needed when the
anchor does not carry its domain parameters.

Examples:
  cardctl cvc verify dica.cvcert device.cvcert --anchor cvca.cvcert
  cardctl cvc verify 2f02.bin --anchor cvca.cvcert --domain p256`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCVCVerify,
}

func init() {
	cvcVerifyCmd.Flags().StringSlice("anchor", nil, "trust anchor CVC files (default: config trust.anchor_files)")
	cvcVerifyCmd.Flags().String("domain", "", "curve name or '7F49' domain parameter file")

	cvcCmd.AddCommand(cvcVerifyCmd)
	rootCmd.AddCommand(cvcCmd)
}

func runCVCVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	anchorFiles, _ := cmd.Flags().GetStringSlice("anchor")
	trust := cfg.Trust
	if len(anchorFiles) > 0 {
		trust = config.TrustConfig{AnchorFiles: anchorFiles}
	}
	anchors, err := trust.Anchors()
	if err != nil {
		return err
	}
	if len(anchors) == 0 {
		return fmt.Errorf("no trust anchor given")
	}

	domainFlag, _ := cmd.Flags().GetString("domain")
	domain, err := resolveDomain(domainFlag)
	if err != nil {
		return err
	}

	var certs []*cvc.Certificate
	for _, f := range args {
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read certificate: %w", err)
		}
		parsed, err := cvc.ParseAll(content)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		certs = append(certs, parsed...)
	}

	anchor, chain, err := buildChain(anchors, certs)
	if err != nil {
		return err
	}
	if err := cvc.VerifyChain(anchor, domain, chain...); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Anchor: %s\n", anchor.CHR())
	for _, c := range chain {
		fmt.Fprintf(out, "  -> %s [%s]\n", c.CHR(), c.State())
	}
	if verbose {
		for _, c := range chain {
			fmt.Fprintln(out, c.Describe())
		}
	}
	fmt.Fprintln(out, "Chain verified")
	return nil
}

func resolveDomain(s string) (*cvc.DomainParameters, error) {
	if s == "" {
		return nil, nil
	}
	if domain, err := cvc.NamedDomain(s); err == nil {
		return domain, nil
	}
	return config.LoadDomainFile(s)
}

// buildChain orders certs from the anchor down. Every certificate must be
// reachable from one anchor.
func buildChain(anchors, certs []*cvc.Certificate) (*cvc.Certificate, []*cvc.Certificate, error) {
	for _, anchor := range anchors {
		var chain []*cvc.Certificate
		used := make([]bool, len(certs))
		current := anchor.CHR()
		for len(chain) < len(certs) {
			next := -1
			for i, c := range certs {
				if !used[i] && c.CAR() == current && c.CHR() != current {
					next = i
					break
				}
			}
			if next < 0 {
				break
			}
			used[next] = true
			chain = append(chain, certs[next])
			current = certs[next].CHR()
		}
		if len(chain) == len(certs) {
			return anchor, chain, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: no anchor links to all %d certificates", cvc.ErrChainBroken, len(certs))
}
