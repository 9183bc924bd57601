package model

// Notice is the user-facing record of an operation the engine gave up on or
// resolved against the user's local copy. Descriptions stay non-technical
// and every notice suggests an action.
type Notice struct {
	Description string
	Suggestion  string
}

func (n Notice) String() string {
	return n.Description + " " + n.Suggestion
}

func PermanentFailureNotice(kind OperationKind) Notice {
	switch kind {
	case KindDiseaseAnalysisUpload:
		return Notice{
			Description: "Your crop photo could not be uploaded.",
			Suggestion:  "It is kept on this device; retry it from the pending uploads screen once you have signal.",
		}
	case KindProfileUpdate:
		return Notice{
			Description: "Your profile changes could not be saved to the server.",
			Suggestion:  "Review your profile and save again when you are back online.",
		}
	case KindFeedback:
		return Notice{
			Description: "Your feedback could not be delivered.",
			Suggestion:  "You can send it again from the feedback screen.",
		}
	case KindConsultationRequest:
		return Notice{
			Description: "Your expert consultation request did not go through.",
			Suggestion:  "Submit the request again, or call the helpline printed on the advice card.",
		}
	case KindPriceAlertSubscription:
		return Notice{
			Description: "Your price alert could not be set up.",
			Suggestion:  "Open market prices and subscribe again.",
		}
	default:
		return Notice{
			Description: "A change made on this device could not reach the server.",
			Suggestion:  "Retry it from the sync history screen.",
		}
	}
}

func RemoteWinsNotice(kind OperationKind) Notice {
	return Notice{
		Description: "The server had a newer copy, so your local " + kind.String() + " change was not applied.",
		Suggestion:  "Check the current values and make the change again if it is still needed.",
	}
}
