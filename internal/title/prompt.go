package title

// Prompt templates use Go text/template syntax with PromptData fields.
const englishPrompt = `Generate a short title for a conversation that begins with the message below.
Use at most 8 words in the language of the message. Reply with the title only, without quotes or trailing punctuation.

Message:
{{.Text}}`

const chinesePrompt = `请为以下对话生成一个简短的标题，不超过15个字，使用与消息相同的语言。只返回标题本身，不要引号或结尾标点。

消息：
{{.Text}}`

// PromptData is the template input.
type PromptData struct {
	Text string
}
