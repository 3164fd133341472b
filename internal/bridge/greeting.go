package bridge

import (
	"regexp"
	"strings"

	"github.com/SandilyaSub/Receptionist/internal/tenant"
)

// fallbackGreeting is spoken when the tenant gives us nothing better.
const fallbackGreeting = "Namaste! Thank you for calling. How may I help you today?"

var quotePattern = regexp.MustCompile(`"([^"]+)"`)

// Greeting picks the line the assistant opens the call with. The tenant's
// explicit welcome message wins; otherwise the assistant prompt is mined for
// a quoted opening line (prompts generated by onboarding embed one starting
// with "Namaste"), then for any quoted string near greeting/welcome wording.
func Greeting(cfg *tenant.Config) string {
	if msg := strings.TrimSpace(cfg.WelcomeMessage); msg != "" {
		return msg
	}

	for _, m := range quotePattern.FindAllStringSubmatch(cfg.AssistantPrompt, -1) {
		if strings.HasPrefix(m[1], "Namaste") {
			return m[1]
		}
	}

	for _, line := range strings.Split(cfg.AssistantPrompt, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "greet") && !strings.Contains(lower, "welcome") {
			continue
		}
		if m := quotePattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return fallbackGreeting
}

// Termination lines spoken before the bridge ends a call on a timeout,
// keyed by the language the call runs in.
var (
	inactivityMessages = map[string]string{
		"english": "We haven't detected any activity on the call for over two minutes. The call will now be disconnected. Thank you for calling.",
		"hindi":   "कॉल पर दो मिनट से अधिक समय से कोई गतिविधि नहीं हुई है। अब कॉल को डिस्कनेक्ट कर दिया जाएगा। कॉल करने के लिए धन्यवाद।",
		"telugu":  "రెండు నిమిషాలకు పైగా కాల్‌లో ఎలాంటి స్పందన లేదు. కాల్ ఇప్పుడు డిస్‌కనెక్ట్ అవుతుంది. కాల్ చేసినందుకు ధన్యవాదాలు.",
	}

	durationMessages = map[string]string{
		"english": "Sorry, maximum call duration of 10 minutes exceeded, will need to cut the call. Thank you for your time.",
		"hindi":   "क्षमा करें, अधिकतम कॉल अवधि 10 मिनट पूरी हो गई है, कॉल काटनी होगी। आपके समय के लिए धन्यवाद।",
		"telugu":  "క్షమించండి, గరిష్ట కాల్ వ్యవధి 10 నిమిషాలు మించిపోయింది, కాల్‌ను కట్ చేయాల్సి వస్తోంది. మీ సమయానికి ధన్యవాదాలు.",
	}
)

// terminationLanguage maps a BCP-47 code to the termination message table key.
func terminationLanguage(code string) string {
	switch {
	case strings.HasPrefix(code, "hi"):
		return "hindi"
	case strings.HasPrefix(code, "te"):
		return "telugu"
	default:
		return "english"
	}
}

// inactivityMessage returns the inactivity termination line for the call's
// language.
func inactivityMessage(languageCode string) string {
	return inactivityMessages[terminationLanguage(languageCode)]
}

// durationMessage returns the max-duration termination line for the call's
// language.
func durationMessage(languageCode string) string {
	return durationMessages[terminationLanguage(languageCode)]
}
