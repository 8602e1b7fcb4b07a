package plan_test

import (
	"github.com/unclebandit/campaign-engine/internal/model"
)

func send(id string, ts ...model.Transition) *model.SendNode {
	return &model.SendNode{
		NodeBase: model.NodeBase{ID: id, Transitions: ts},
		Channel:  model.ChannelEmail,
		Subject:  "Hello {first_name}",
		Body:     "Body of " + id,
		Schedule: model.Schedule{Delay: "PT0S"},
	}
}

func wait(id string, ts ...model.Transition) *model.WaitNode {
	return &model.WaitNode{NodeBase: model.NodeBase{ID: id, Transitions: ts}}
}

func stop(id string) *model.StopNode {
	return &model.StopNode{NodeBase: model.NodeBase{ID: id, Transitions: []model.Transition{}}}
}

func dripPlan() *model.CampaignPlan {
	return &model.CampaignPlan{
		Version:     "v1",
		Timezone:    "America/New_York",
		QuietHours:  &model.QuietHours{Start: "21:00", End: "07:30"},
		Defaults:    model.Defaults{Timers: model.Timers{NoOpenAfter: "PT48H", NoClickAfter: "PT72H"}},
		StartNodeID: "welcome",
		Nodes: []model.Node{
			send("welcome",
				model.Transition{On: model.EventOpened, To: "nudge", Within: "PT24H"},
				model.Transition{On: model.EventNoOpen, To: "reminder", After: "PT48H"},
			),
			wait("nudge",
				model.Transition{On: model.EventClicked, To: "done", Within: "PT72H"},
				model.Transition{On: model.EventNoClick, To: "reminder", After: "PT72H"},
			),
			send("reminder",
				model.Transition{On: model.EventNoOpen, To: model.StopNodeID, After: "PT24H"},
			),
			stop("done"),
		},
	}
}
