package ingestion

import (
	"strings"

	"github.com/54b3r/healthrag/internal/rag"
)

// Topic labels attached to every chunk of a record.
const (
	TopicEmergency  = "emergency"
	TopicMedication = "medication"
	TopicIndicator  = "indicator"
	TopicSymptom    = "symptom"
	TopicGeneral    = "general"
)

// questionExcerptLen is the maximum number of runes of the question kept in
// the "question" tag.
const questionExcerptLen = 100

// topicRule maps keyword fragments to a topic. Rules are checked in order so
// an emergency question mentioning a drug is still tagged emergency.
type topicRule struct {
	// topic is the label assigned when any keyword matches.
	topic string
	// keywords are lower-case fragments matched with strings.Contains.
	keywords []string
}

var topicRules = []topicRule{
	{
		topic: TopicEmergency,
		keywords: []string{
			"emergency", "chest pain", "unconscious", "can't breathe", "cannot breathe",
			"shortness of breath", "severe bleeding", "stroke", "seizure", "overdose", "suicid",
			"急救", "紧急", "胸痛", "昏迷", "呼吸困难", "大出血", "中风", "抽搐",
		},
	},
	{
		topic: TopicMedication,
		keywords: []string{
			"medication", "medicine", "drug", "dose", "dosage", "mg ", "tablet", "pill",
			"side effect", "prescription", "antibiotic", "ibuprofen", "paracetamol", "aspirin",
			"用药", "药物", "剂量", "副作用", "服用", "处方", "抗生素",
		},
	},
	{
		topic: TopicIndicator,
		keywords: []string{
			"blood pressure", "glucose", "blood sugar", "cholesterol", "bmi", "heart rate",
			"level", "lab result", "test result", "normal range", "hba1c",
			"血压", "血糖", "血脂", "胆固醇", "心率", "指标", "化验", "体检",
		},
	},
	{
		topic: TopicSymptom,
		keywords: []string{
			"symptom", "pain", "ache", "fever", "cough", "nausea", "vomit", "dizz", "rash",
			"fatigue", "swelling", "itch", "diarrhea", "headache",
			"症状", "疼", "痛", "发烧", "发热", "咳嗽", "恶心", "呕吐", "头晕", "皮疹", "乏力",
		},
	},
}

// InferTopic classifies a question into one of the Topic* labels using the
// keyword table. Questions that match nothing are TopicGeneral.
func InferTopic(question string) string {
	lower := strings.ToLower(question)
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.topic
			}
		}
	}
	return TopicGeneral
}

// recordTags builds the tags shared by every chunk of doc.
func recordTags(doc rag.Document) map[string]string {
	q := doc.Fields["question"]
	tags := map[string]string{
		"topic": InferTopic(q),
	}
	if v := doc.Fields["source"]; v != "" {
		tags["source"] = v
	}
	if v := doc.Fields["record"]; v != "" {
		tags["record"] = v
	}
	if q != "" {
		tags["question"] = excerpt(q, questionExcerptLen)
	}
	return tags
}

// excerpt truncates s to n runes, marking the cut with "...".
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
