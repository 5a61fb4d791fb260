package telephony

import "github.com/twilio/twilio-go/twiml"

// DialTwiML builds the document that transfers the caller to another
// number, ending the relay media session.
func DialTwiML(number string) (string, error) {
	dial := &twiml.VoiceDial{
		InnerElements: []twiml.Element{
			&twiml.VoiceNumber{PhoneNumber: number},
		},
	}
	return twiml.Voice([]twiml.Element{dial})
}

// DigitsTwiML builds a document that plays DTMF tones into the call.
func DigitsTwiML(digits string) (string, error) {
	play := &twiml.VoicePlay{Digits: digits}
	return twiml.Voice([]twiml.Element{play})
}

// ConnectRelayTwiML answers an inbound webhook by bridging the call to
// the relay WebSocket via ConversationRelay. The webhook endpoint
// itself (and its signature validation) lives outside this gateway.
func ConnectRelayTwiML(wsURL, greeting string) (string, error) {
	relay := &twiml.VoiceConversationRelay{
		Url:                          wsURL,
		WelcomeGreeting:              greeting,
		WelcomeGreetingInterruptible: "speech",
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{relay},
	}
	return twiml.Voice([]twiml.Element{connect})
}
