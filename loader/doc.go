// Package loader turns guest bytecode into a compiled, validated module.
//
// Input is either raw wasm bytecode or its standard base64 encoding. The
// encoding is detected by the first byte: every base64 encoded wasm binary
// starts with 'A' ("\0asm" encodes to "AGFzbQ"), while raw bytecode starts
// with 0x00.
//
//	mod, err := loader.Load(ctx, rt, data)
//	if err != nil {
//	    return err // errors.KindDecode or errors.KindSandbox
//	}
//	if err := mod.Validate(); err != nil {
//	    return err // errors.KindMissingExport or errors.KindBadImport
//	}
//
// Decode is pure and needs no runtime.
package loader
