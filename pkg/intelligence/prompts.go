package intelligence

import "strings"

// Default prompt templates. Placeholders are {message}, {context} and
// {history_context}; unknown placeholders are left untouched.
const (
	DefaultWeightPrompt = "评估消息权重（0-100），用于判断是否用于构建用户印象。权重评估标准：" +
		"高权重(70-100): 包含重要个人信息、兴趣爱好、价值观、情感表达、深度思考、独特观点、生活经历分享；" +
		"中权重(40-69): 一般日常对话、简单提问、客观陈述、基础信息交流；" +
		"低权重(0-39): 简单问候、客套话、无实质内容的互动、表情符号。" +
		"特别注意：分享个人喜好（如书籍、音乐、电影等）、询问对方偏好、表达个人观点都应该给予较高权重。" +
		"只返回键值对格式：WEIGHT_SCORE: 分数;WEIGHT_LEVEL: high/medium/low;REASON: 评估原因;消息: {message};上下文: {context}"

	DefaultImpressionPrompt = "分析用户消息按8个维度生成印象，每项10字内，信息不足用待观察。" +
		"只返回键值对格式：personality_traits:性格特征;interests_hobbies:兴趣爱好;communication_style:交流风格;" +
		"emotional_tendencies:情感倾向;behavioral_patterns:行为模式;values_attitudes:价值观态度;" +
		"relationship_preferences:关系偏好;growth_development:成长发展。历史: {history_context};消息: {message}"

	DefaultAffectionPrompt = "评估用户消息情感倾向（friendly/neutral/negative）。" +
		"只返回键值对格式：TYPE: friendly/neutral/negative;REASON: 评估原因;消息: {message}"
)

// renderPrompt substitutes placeholders in template.
func renderPrompt(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
