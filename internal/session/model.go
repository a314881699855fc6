package session

import "strings"

// fastModelSuffix 合成模型 ID 后缀；解析时剥掉并附加 fast-mode 参数
// fastModelSuffix marks a synthetic model id. The execution API receives the
// bare id plus a fast-mode extra argument; stored records keep the synthetic
// id for display.
const fastModelSuffix = "-fast"

// fastModeArg is the extra argument attached when fast mode is requested.
const fastModeArg = "fast-mode"

// resolveModel 把合成 "X-fast" 解析为真实模型 ID 与 fast 标记
// resolveModel resolves a possibly synthetic id into the real id plus flag.
func resolveModel(model string) (apiModel string, fast bool) {
	if strings.HasSuffix(model, fastModelSuffix) && len(model) > len(fastModelSuffix) {
		return strings.TrimSuffix(model, fastModelSuffix), true
	}
	return model, false
}
