package cvc

import "errors"

var (
	// ErrInvalidCertificateStructure is returned when the TLV layout of a
	// certificate or public key template is not the expected one.
	ErrInvalidCertificateStructure = errors.New("cvc: invalid certificate structure")

	// ErrMissingDomainParameters is returned when a curve parameter of an EC
	// key is absent from both the certificate and the supplied parameters.
	ErrMissingDomainParameters = errors.New("cvc: missing domain parameters")

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = errors.New("cvc: signature invalid")

	// ErrUnsupportedAlgorithm is returned for unknown key OIDs.
	ErrUnsupportedAlgorithm = errors.New("cvc: unsupported algorithm")

	// ErrChainBroken is returned when a certificate's CAR does not name the
	// holder of the previous certificate.
	ErrChainBroken = errors.New("cvc: certificate chain broken")
)
