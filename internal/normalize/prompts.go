package normalize

import "strings"

// Modality is the kind of content handed to the model.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

const rolePreamble = "あなたはユーザーが保存したコンテンツを整理し、日本語のノートにまとめるアシスタントです。"

var taskByModality = map[Modality]string{
	ModalityText: `与えられたテキストはウェブページや投稿から抽出したものです。
料理のレシピであれば料理名、材料と分量、手順を抜き出してください。
レシピでなければ、要点を Markdown の箇条書きで要約してください。`,
	ModalityImage: `与えられた画像 (とキャプション) の内容を読み取ってください。
料理のレシピや料理の写真であれば料理名、材料、手順をまとめてください。
それ以外であれば、画像に写っている情報の要点を Markdown でまとめてください。`,
	ModalityVideo: `与えられた動画の内容を視聴して理解してください。
料理動画であれば料理名、材料と分量、手順をまとめてください。
それ以外であれば、動画の要点を Markdown の箇条書きで要約してください。`,
}

// outputContract is appended to every system prompt, including custom ones,
// so the response can always be parsed.
const outputContract = `出力は次のいずれかの JSON オブジェクトだけにしてください。前後に説明文を付けないでください。
レシピの場合:
{"type":"recipe","data":{"name":"料理名","ingredients":"- 材料 分量\n- 材料 分量","instructions":"1. 手順\n2. 手順"}}
レシピ以外の場合:
{"type":"summary","data":{"title":"タイトル","content":"Markdown 形式の要約"}}
内容を読み取れない場合:
{"type":"error","data":"理由"}`

var lengthDirectives = map[string]string{
	"short":  "要約は 3 項目以内の箇条書きで、ごく簡潔にしてください。",
	"medium": "要約は 5 項目前後の箇条書きにしてください。",
	"long":   "要約は 10 項目程度の箇条書きで、詳細まで含めてください。",
}

// ValidLength reports whether s is an accepted summary length setting. The
// empty string means no directive.
func ValidLength(s string) bool {
	if s == "" {
		return true
	}
	_, ok := lengthDirectives[s]
	return ok
}

// BuildSystemPrompt assembles the system prompt for a modality. A non-empty
// custom prompt replaces the task section; the JSON contract and the length
// directive are always added.
func BuildSystemPrompt(m Modality, customPrompt, length string) string {
	task := taskByModality[m]
	if task == "" {
		task = taskByModality[ModalityText]
	}
	if strings.TrimSpace(customPrompt) != "" {
		task = strings.TrimSpace(customPrompt)
	}

	sections := []string{rolePreamble, task}
	if d, ok := lengthDirectives[strings.ToLower(strings.TrimSpace(length))]; ok {
		sections = append(sections, d)
	}
	sections = append(sections, outputContract)
	return strings.Join(sections, "\n\n")
}
