package config

type WorkerKeyStruct struct {
	PersistAnswerEventsQueue  string
	PersistQuestionViewsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswerEventsQueue:  "persist_answer_events_queue",
	PersistQuestionViewsQueue: "persist_question_views_queue",
}
