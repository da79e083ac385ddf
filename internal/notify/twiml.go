package notify

import "github.com/beevik/etree"

// TwiMLContentType is the content type of a messaging reply.
const TwiMLContentType = "text/xml"

// MessagingResponse renders a TwiML reply carrying body.
func MessagingResponse(body string) (string, error) {
	document := etree.NewDocument()
	document.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	response := document.CreateElement("Response")
	message := response.CreateElement("Message")
	message.SetText(body)
	return document.WriteToString()
}
