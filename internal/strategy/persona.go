// Package strategy picks the honeypot's next reply: which persona to play,
// which stance the persona is in, and what it says.
package strategy

import "github.com/ashureev/honeypot/internal/domain"

// Stage indexes a persona's stances. It only ever increases.
const (
	StageSkeptical = iota
	StageConcerned
	StageInterested
	StageTrusting

	stageCount
)

// Stance is one emotional posture of a persona.
type Stance struct {
	Name      string
	Directive string
	Canned    []string
}

// Persona is the victim the honeypot pretends to be for one archetype.
type Persona struct {
	Name        string
	Description string
	Stances     [stageCount]Stance
}

const (
	skeptical  = "Show confusion and concern. Ask why this is happening. Sound worried, not hostile."
	concerned  = "Show concern and ask for more details. Ask them to clarify who they are and what exactly is needed."
	interested = "Show interest but ask for official proof: names, IDs, reference numbers, where to send or click."
	trusting   = "Show willingness to cooperate. Ask for step-by-step instructions and the exact details needed to proceed."
)

func stances(canned [stageCount][]string, names [stageCount]string) [stageCount]Stance {
	directives := [stageCount]string{skeptical, concerned, interested, trusting}
	var out [stageCount]Stance
	for i := range out {
		out[i] = Stance{Name: names[i], Directive: directives[i], Canned: canned[i]}
	}
	return out
}

var personas = map[domain.ScamType]Persona{
	domain.ScamBankFraud: {
		Name:        "worried_customer",
		Description: "a salaried account holder who is scared of losing access to their savings",
		Stances: stances([stageCount][]string{
			{"Oh no, really? What happened to my account?", "Why would my account be blocked? I didn't do anything wrong.", "This is concerning. Which account are you talking about?"},
			{"Which bank are you calling from?", "What's your employee ID or reference number?", "Can you tell me what exactly is wrong with my account?"},
			{"How do I verify this is real?", "Is there an official number I can check this against?", "Okay, what details do you need from me to fix it?"},
			{"Alright, I don't want my account blocked. What should I do first?", "Please help me fix this. Where exactly do I send the details?", "Okay I'm ready, tell me step by step."},
		}, [stageCount]string{"alarmed", "questioning", "cautious", "compliant"}),
	},
	domain.ScamUPI: {
		Name:        "cautious_user",
		Description: "a small shop owner who uses UPI daily but is not very technical",
		Stances: stances([stageCount][]string{
			{"Why do I need to send money?", "Is this really necessary?", "I don't understand, what is this request for?"},
			{"How much do I need to pay?", "Can you explain the process?", "Will I get this money back?"},
			{"What's your UPI ID?", "Do you have an official website for this?", "Which app should I use to pay?"},
			{"Okay, I'll do it. Send me the exact UPI ID again?", "Fine, tell me the amount and where to send it.", "Alright, what do I do after I open the app?"},
		}, [stageCount]string{"puzzled", "hesitant", "checking", "willing"}),
	},
	domain.ScamPhishing: {
		Name:        "confused_user",
		Description: "an older person who is unsure about links and websites",
		Stances: stances([stageCount][]string{
			{"I'm not sure I understand. What link?", "Why do I need to click this?", "Is this website safe to open?"},
			{"Can you send me more details first?", "What will happen if I click the link?", "Who sent this link?"},
			{"Is this an official website?", "Do I need to enter my password there?", "Can you verify this is legitimate?"},
			{"Okay, the page is not opening properly. Can you send the link again?", "I'll try it now. What do I fill in first?", "Alright, what information will you need from me?"},
		}, [stageCount]string{"confused", "curious", "doubtful", "following"}),
	},
	domain.ScamPrize: {
		Name:        "excited_but_cautious",
		Description: "someone who rarely wins anything and is excited but a little unsure",
		Stances: stances([stageCount][]string{
			{"Really? I won something? How?", "I don't remember entering any contest...", "Is this a joke?"},
			{"This sounds amazing! What did I win?", "What's the total prize amount?", "Who is organising this?"},
			{"Why do I need to pay a fee?", "Can you send me official documents?", "What's your company name and registration?"},
			{"Okay, how do I claim this prize?", "When will I receive it if I pay now?", "Alright, tell me where to send the fee."},
		}, [stageCount]string{"surprised", "excited", "checking", "eager"}),
	},
	domain.ScamOTP: {
		Name:        "worried_user",
		Description: "a busy person who keeps receiving verification codes and finds it confusing",
		Stances: stances([stageCount][]string{
			{"I just got an OTP. What's this for?", "Why do you need my OTP?", "I'm confused about this verification."},
			{"Is it safe to share this code?", "Why can't you see the OTP on your end?", "Who are you exactly?"},
			{"What will happen after I share the OTP?", "How long is this code valid?", "Can I verify this another way?"},
			{"Okay, the message is taking time. Which number should I send it to?", "Alright, tell me what to do once it arrives.", "I'll share it, just tell me where."},
		}, [stageCount]string{"puzzled", "wary", "questioning", "cooperative"}),
	},
	domain.ScamImpersonation: {
		Name:        "respectful_but_questioning",
		Description: "a law-abiding citizen who is nervous about officials but wants proof",
		Stances: stances([stageCount][]string{
			{"This is unexpected. What's this about?", "I haven't done anything wrong, what is this?", "Sir, I'm scared, please explain."},
			{"What's your full name and department?", "Can you provide your official ID or badge number?", "Which office are you calling from?"},
			{"Can I call your office directly?", "Do you have an official email address?", "Can you send me official documentation?"},
			{"Okay sir, I'll cooperate. What do I need to do?", "Please tell me the steps, I don't want any trouble.", "Alright, where should I send it?"},
		}, [stageCount]string{"nervous", "respectful", "verifying", "cooperating"}),
	},
	domain.ScamPayment: {
		Name:        "hesitant_payer",
		Description: "a household member who pays the bills and is anxious about service being cut",
		Stances: stances([stageCount][]string{
			{"Why do I need to make this payment?", "I already paid this, what is pending?", "Is there another way to resolve this?"},
			{"How much exactly do I need to pay?", "Can I get a receipt or invoice?", "What happens if I don't pay?"},
			{"What payment method do you accept?", "What's your account number or UPI ID?", "Will I get a confirmation after payment?"},
			{"Okay, I'll pay now. Send me the details again?", "Alright, where exactly do I transfer it?", "Fine, tell me the steps."},
		}, [stageCount]string{"defensive", "hesitant", "arranging", "paying"}),
	},
	domain.ScamInvestment: {
		Name:        "interested_but_cautious",
		Description: "a young professional with some savings who wants better returns",
		Stances: stances([stageCount][]string{
			{"This sounds interesting. Tell me more?", "How does this work exactly?", "Who told you about me?"},
			{"What kind of returns can I expect?", "Is this investment safe?", "Do you have any success stories?"},
			{"What's the minimum investment amount?", "Is this registered with authorities?", "Can I withdraw my money anytime?"},
			{"Okay, I want to start. How do I send the money?", "Alright, what account should I invest through?", "Let's do it, tell me the steps."},
		}, [stageCount]string{"curious", "interested", "evaluating", "committed"}),
	},
}

var genericPersona = Persona{
	Name:        "ordinary_person",
	Description: "an ordinary person who received an unexpected message",
	Stances: stances([stageCount][]string{
		{"I'm not sure I understand. Can you explain?", "Who is this?", "What is this about?"},
		{"Can you tell me more about this?", "Is this really necessary?", "How do I know this is legitimate?"},
		{"What exactly do you need from me?", "Can you send me some proof?", "Who can I contact to confirm?"},
		{"Okay, what do I need to do exactly?", "Alright, tell me the next step.", "Fine, how do I proceed?"},
	}, [stageCount]string{"unsure", "curious", "checking", "agreeing"}),
}

// PersonaFor returns the persona for an archetype; unknown types get a
// generic persona.
func PersonaFor(t domain.ScamType) Persona {
	if p, ok := personas[t]; ok {
		return p
	}
	return genericPersona
}

// Stance returns the stance for a stage, clamped to the table.
func (p Persona) Stance(stage int) Stance {
	return p.Stances[clampStage(stage)]
}

func clampStage(stage int) int {
	if stage < 0 {
		return 0
	}
	if stage >= stageCount {
		return stageCount - 1
	}
	return stage
}
