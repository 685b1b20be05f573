package llm

import "errors"

// Model identifica un modelo soportado. El despacho es cerrado: cualquier
// identificador fuera de la tabla se rechaza antes de tocar el proveedor.
type Model string

const (
	ModelGPT4       Model = "gpt-4"
	ModelGPT4o      Model = "gpt-4o"
	ModelGPT4oMini  Model = "gpt-4o-mini"
	ModelGPT35Turbo Model = "gpt-3.5-turbo"
)

var ErrUnsupportedModel = errors.New("unsupported model")

var supportedModels = map[Model]struct{}{
	ModelGPT4:       {},
	ModelGPT4o:      {},
	ModelGPT4oMini:  {},
	ModelGPT35Turbo: {},
}

// ResolveModel valida un identificador recibido del cliente.
func ResolveModel(id string) (Model, error) {
	model := Model(id)
	if _, ok := supportedModels[model]; !ok {
		return "", ErrUnsupportedModel
	}
	return model, nil
}
