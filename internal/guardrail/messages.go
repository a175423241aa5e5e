package guardrail

import "fmt"

// BlockedMessage replaces a response that must not reach the user.
const BlockedMessage = "I'm not able to share that information. For details about your account or billing, please contact support."

const (
	msgOK       = "OK"
	msgInvalid  = "Your request could not be processed because the input format is invalid. Please send a text message."
	msgEmpty    = "Your request could not be processed because the message is empty. Please type your question or describe your issue (e.g. billing, account, or support ticket) and try again."
	msgTooLong  = "Your request could not be processed because the message is too long (maximum %s characters). Please shorten your message and try again."
	msgInjected = "Your request could not be processed because it contains instructions that this chat is not designed to follow. Please ask only about billing, your account, or support tickets (e.g. payments, refunds, login, or ticket status) and we’ll be happy to help."
	msgBlocked  = "Your request could not be processed because it contains content that is not permitted. Please rephrase your message and ask about billing, account, or support tickets only."
)

var categoryReasons = map[Category]string{
	CategoryOffTopic:        "Your request could not be processed because this chat supports Ecommerce-related questions only (orders, products, returns, refunds, billing, account, support). We don’t handle flight or train booking, travel, or other non-ecommerce topics. Please ask about your orders, account, or support.",
	CategoryPromptInjection: "Your request could not be processed because it contains instructions this chat is not designed to follow. Please ask only about your orders, account, or ecommerce support and we’ll be happy to help.",
	CategoryHarmful:         "Your request could not be processed because it appears to contain content that we cannot assist with. Please rephrase and limit your question to ecommerce (orders, products, returns, billing, account, or support).",
	CategoryOther:           "Your request could not be processed. This chat supports Ecommerce-related questions only (orders, products, returns, refunds, billing, account, support). Please rephrase your message accordingly.",
}

// ReasonFor returns the user-facing explanation for a rejected category.
func ReasonFor(c Category) string {
	if r, ok := categoryReasons[c]; ok {
		return r
	}
	return categoryReasons[CategoryOther]
}

func tooLongMessage(max int) string {
	return fmt.Sprintf(msgTooLong, groupThousands(max))
}

// groupThousands formats n with comma separators: 32000 -> "32,000".
func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg, s = true, s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
