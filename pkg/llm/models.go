package llm

// Идентификаторы моделей провайдера
const (
	ModelDeepSeekV3 = "deepseek-ai/DeepSeek-V3"
	ModelDeepSeekR1 = "deepseek-ai/DeepSeek-R1"
)

// SupportedModels модели, доступные для переключения на лету
func SupportedModels() []string {
	return []string{ModelDeepSeekV3, ModelDeepSeekR1}
}

// IsSupportedModel проверяет идентификатор перед переключением
func IsSupportedModel(model string) bool {
	for _, supported := range SupportedModels() {
		if supported == model {
			return true
		}
	}
	return false
}
