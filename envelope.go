package mss

// A signed message together with everything needed to verify it:
// the parameters and root of the signer's public key.
type Envelope struct {
	Params    Params
	Root      []byte
	Message   []byte
	Signature *Signature
}

// Packs msg and its signature by pk.
func NewEnvelope(pk *PublicKey, msg []byte, sig *Signature) *Envelope {
	return &Envelope{
		Params:    pk.ctx.p,
		Root:      pk.Root(),
		Message:   msg,
		Signature: sig,
	}
}

// Returns the public key of the signer.
func (env *Envelope) PublicKey() (*PublicKey, Error) {
	ctx, err := NewContext(env.Params)
	if err != nil {
		return nil, err
	}
	return ctx.PublicKeyFromRoot(env.Root)
}

// Check whether the signature in the envelope is a valid signature of
// the message for the enclosed root.
//
// Note that this does not establish who made the signature: the caller
// has to check that the root belongs to a trusted signer.
func (env *Envelope) Verify() (bool, Error) {
	pk, err := env.PublicKey()
	if err != nil {
		return false, err
	}
	return pk.Verify(env.Signature, env.Message)
}

// Encodes the envelope as
//
//   [params] [root] [length of message (4 bytes, big endian)] [message]
//   [signature]
func (env *Envelope) MarshalBinary() ([]byte, error) {
	if env.Signature == nil {
		return nil, kindErrorf(ErrMalformedSignature, "Signature is nil")
	}
	if len(env.Root) != N {
		return nil, kindErrorf(ErrMalformedDigest,
			"Root should be %d bytes, not %d", N, len(env.Root))
	}
	if uint64(len(env.Message)) > 0xffffffff {
		return nil, errorf("Message is too long")
	}
	params, _ := env.Params.MarshalBinary()
	sig, _ := env.Signature.MarshalBinary()

	ret := make([]byte, 0, ParamsSize+N+4+len(env.Message)+len(sig))
	ret = append(ret, params...)
	ret = append(ret, env.Root...)
	var msgLen [4]byte
	encodeUint64Into(uint64(len(env.Message)), msgLen[:])
	ret = append(ret, msgLen[:]...)
	ret = append(ret, env.Message...)
	ret = append(ret, sig...)
	return ret, nil
}

func (env *Envelope) UnmarshalBinary(buf []byte) error {
	const fixed = ParamsSize + N + 4
	if len(buf) < fixed {
		return kindErrorf(ErrMalformedSignature,
			"Envelope is too short: %d bytes", len(buf))
	}
	var params Params
	if err := params.UnmarshalBinary(buf[:ParamsSize]); err != nil {
		return err
	}
	msgLen := decodeUint64(buf[ParamsSize+N : fixed])
	if msgLen > uint64(len(buf)-fixed) {
		return kindErrorf(ErrMalformedSignature,
			"Envelope is too short for a message of %d bytes", msgLen)
	}
	rest := buf[fixed+int(msgLen):]
	if len(rest) != params.SignatureSize() {
		return kindErrorf(ErrMalformedSignature,
			"Signature should be %d bytes, not %d",
			params.SignatureSize(), len(rest))
	}
	var sig Signature
	if err := sig.UnmarshalBinary(rest); err != nil {
		return err
	}

	env.Params = params
	env.Root = make([]byte, N)
	copy(env.Root, buf[ParamsSize:ParamsSize+N])
	env.Message = make([]byte, msgLen)
	copy(env.Message, buf[fixed:fixed+int(msgLen)])
	env.Signature = &sig
	return nil
}
