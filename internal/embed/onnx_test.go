package embed

// Compile-time interface compliance check. Constructing a real
// ONNXEmbedder requires the onnxruntime shared library and a
// downloaded model on disk, so no test constructs one; the sync engine's
// tests use the static embedder.
var _ Embedder = (*ONNXEmbedder)(nil)
